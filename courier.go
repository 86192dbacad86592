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

package courier

import (
	"context"
	"embed"

	"github.com/redis/go-redis/v9"

	"github.com/surelv/courier/config"
	"github.com/surelv/courier/database"
	redis_db "github.com/surelv/courier/internal/redis-db"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

// SendPublisher is the post-commit notification sink of the outbox pipeline.
// Queue satisfies it in production; tests substitute a recorder.
type SendPublisher interface {
	PublishSend(ctx context.Context, messageID string, params map[string]interface{}) error
}

// Courier is the delivery engine: job scheduling, outbox fulfillment,
// suppression handling and tracking, coordinated through the relational
// store.
type Courier struct {
	queue      *Queue
	publisher  SendPublisher
	registry   *RecipeRegistry
	redis      redis.UniversalClient
	datasource database.IDataSource
}

// NewCourier wires a Courier from the loaded configuration. Custom builders
// override the config-driven default per recipe name.
func NewCourier(db database.IDataSource, builders map[string]MessageBuilder) (*Courier, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient(configuration.Redis.Dns, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	registry, err := NewRecipeRegistry(configuration.Recipes, builders)
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)

	return &Courier{
		datasource: db,
		queue:      newQueue,
		publisher:  newQueue,
		registry:   registry,
		redis:      redisClient.Client(),
	}, nil
}

// Registry exposes the recipe registry for API handlers and commands.
func (c *Courier) Registry() *RecipeRegistry {
	return c.registry
}

// DataSource exposes the underlying store for collaborators built around
// the engine, like the transport sender.
func (c *Courier) DataSource() database.IDataSource {
	return c.datasource
}

// PublishEnqueueTransactional hands a transactional intake message to the
// enqueue queue for the intake consumer.
func (c *Courier) PublishEnqueueTransactional(ctx context.Context, msg EnqueueTransactionalMessage) error {
	return c.queue.PublishEnqueueTransactional(ctx, msg)
}

// PublishEnqueueList hands a list intake message to the enqueue queue.
func (c *Courier) PublishEnqueueList(ctx context.Context, msg EnqueueListMessage) error {
	return c.queue.PublishEnqueueList(ctx, msg)
}
