/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/surelv/courier"
	"github.com/surelv/courier/api/middleware"
	"github.com/surelv/courier/config"
)

type Api struct {
	courier *courier.Courier
	router  *gin.Engine
	secure  bool
}

// Router registers all routes. Tracking, unsubscribe and the feedback
// webhook stay public: recipients and the mail provider hit them without
// credentials. Everything else sits behind the secret-key guard when secure
// mode is on.
func (a Api) Router() *gin.Engine {
	router := a.router

	router.GET("/track/:type/:id/:token", a.TrackEvent)
	router.GET("/unsubscribe/:member_id/:message_id/:payload/:signature", a.Unsubscribe)
	router.POST("/feedback/ses", a.SESFeedback)

	guarded := router.Group("/")
	if a.secure {
		guarded.Use(middleware.SecretKeyAuthMiddleware())
	}

	guarded.POST("/emails/transactional", a.EnqueueTransactional)
	guarded.POST("/emails/list", a.EnqueueList)

	guarded.GET("/jobs/:id", a.GetJob)
	guarded.POST("/jobs/:id/cancel", a.CancelJob)
	guarded.POST("/jobs/release-drafts", a.ReleaseDrafts)

	guarded.GET("/messages/:id", a.GetMessage)
	guarded.GET("/messages/:id/events", a.GetMessageEvents)

	guarded.POST("/contacts", a.UpsertContact)
	guarded.GET("/contacts/:id", a.GetContact)

	guarded.POST("/lists", a.UpsertList)
	guarded.GET("/lists/:id", a.GetList)
	guarded.POST("/lists/:id/members", a.UpsertListMember)

	return a.router
}

func NewAPI(c *courier.Courier) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{courier: c, router: r, secure: conf.Server.Secure}
}
