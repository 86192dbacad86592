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
	"github.com/sirupsen/logrus"

	"github.com/surelv/courier"
	"github.com/surelv/courier/model"
)

// openPixel is a 1x1 transparent GIF served on open-tracking hits.
var openPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// TrackEvent resolves a click or open hit. Clicks redirect to the stored
// target; opens answer with the pixel. Invalid tokens still serve the pixel
// on the open path so broken mail clients don't render a hard error image.
func (a Api) TrackEvent(c *gin.Context) {
	rawType := c.Param("type")
	trackingType, err := model.ParseTrackingType(rawType)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown tracking type"})
		return
	}

	recordID := c.Param("id")
	token := c.Param("token")

	target, err := a.courier.RecordTrackingEvent(c.Request.Context(), trackingType, recordID, token, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		if trackingType == model.TrackingOpen {
			logrus.Warnf("rejected open hit for %s: %v", recordID, err)
			c.Data(http.StatusOK, "image/gif", openPixel)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown or invalid tracking link"})
		return
	}

	if trackingType == model.TrackingClick {
		c.Redirect(http.StatusFound, target)
		return
	}
	c.Data(http.StatusOK, "image/gif", openPixel)
}

// Unsubscribe handles a signed unsubscribe link from a delivered email.
func (a Api) Unsubscribe(c *gin.Context) {
	memberID := c.Param("member_id")
	messageID := c.Param("message_id")
	payload := c.Param("payload")
	signature := c.Param("signature")

	if err := a.courier.Unsubscribe(c.Request.Context(), memberID, messageID, payload, signature); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid unsubscribe link"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "unsubscribed"})
}

// SESFeedback consumes bounce/complaint/delivery notifications posted by the
// provider. Unknown event types are a client error; everything else is
// acknowledged even when no local record matches.
func (a Api) SESFeedback(c *gin.Context) {
	var notification courier.FeedbackNotification
	if err := c.ShouldBindJSON(&notification); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := a.courier.ProcessFeedback(c.Request.Context(), notification); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}
