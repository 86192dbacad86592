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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surelv/courier/config"
	"github.com/surelv/courier/model"
)

func TestNewRecipeRegistry(t *testing.T) {
	registry, err := NewRecipeRegistry([]config.RecipeConfig{
		{Name: "welcome", Kind: "transactional", FlowKey: "onboarding", StableKeys: []string{"account_id"}},
		{Name: "digest", Kind: "list", DefaultDelaySeconds: 300, DefaultPriority: 2},
	}, nil)
	require.NoError(t, err)

	recipe, builder, ok := registry.Get("welcome")
	require.True(t, ok)
	assert.Equal(t, model.JobKindTransactional, recipe.Kind)
	assert.Equal(t, "onboarding", recipe.FlowKey)
	assert.NotNil(t, builder)

	_, _, ok = registry.Get("unknown")
	assert.False(t, ok)
}

func TestNewRecipeRegistryFailsFast(t *testing.T) {
	_, err := NewRecipeRegistry([]config.RecipeConfig{{Name: "welcome", Kind: "bulk"}}, nil)
	assert.Error(t, err, "unknown kind must be rejected")

	_, err = NewRecipeRegistry([]config.RecipeConfig{
		{Name: "welcome", Kind: "transactional"},
		{Name: "welcome", Kind: "transactional"},
	}, nil)
	assert.Error(t, err, "duplicate names must be rejected")

	_, err = NewRecipeRegistry([]config.RecipeConfig{{Name: "", Kind: "transactional"}}, nil)
	assert.Error(t, err, "empty name must be rejected")

	_, err = NewRecipeRegistry(
		[]config.RecipeConfig{{Name: "welcome", Kind: "transactional"}},
		map[string]MessageBuilder{"stale": &RecipeBuilder{}},
	)
	assert.Error(t, err, "builder for unknown recipe must be rejected")
}

func TestRecipeBuilderFillsFromConfigAndParams(t *testing.T) {
	config.MockConfig(&config.Configuration{
		Email: config.EmailConfig{
			Secret:      "test-secret",
			DefaultFrom: "no-reply@example.com",
		},
	})

	registry, err := NewRecipeRegistry([]config.RecipeConfig{{
		Name:            "welcome",
		Kind:            "transactional",
		TemplateKey:     "welcome_email",
		TemplateVersion: "3",
		Subject:         "Welcome aboard",
		Headers:         map[string]string{"X-Campaign": "onboarding"},
	}}, nil)
	require.NoError(t, err)

	_, builder, ok := registry.Get("welcome")
	require.True(t, ok)

	job := &model.Job{
		JobID:  "job_1",
		Name:   "welcome",
		Kind:   model.JobKindTransactional,
		Params: map[string]interface{}{"body_html": "<p>Hello</p>", "body_plain": "Hello"},
	}
	contact := &model.Contact{ContactID: "cnt_1", Email: "user@example.com"}
	msg := &model.EmailMessage{MessageID: "msg_1", CreatedAt: time.Now()}

	require.NoError(t, builder.BuildMessage(context.Background(), job, contact, nil, msg))
	assert.Equal(t, "Welcome aboard", msg.Subject)
	assert.Equal(t, "no-reply@example.com", msg.FromEmail)
	assert.Equal(t, "user@example.com", msg.ToEmail)
	assert.Equal(t, "welcome_email", msg.TemplateKey)
	assert.Equal(t, "3", msg.TemplateVersion)
	assert.Equal(t, "<p>Hello</p>", msg.BodyHTML)
	assert.Equal(t, "onboarding", msg.Headers["X-Campaign"])
}

func TestRecipeBuilderRequiresContent(t *testing.T) {
	config.MockConfig(&config.Configuration{
		Email: config.EmailConfig{Secret: "test-secret", DefaultFrom: "no-reply@example.com"},
	})

	registry, err := NewRecipeRegistry([]config.RecipeConfig{{
		Name: "welcome", Kind: "transactional", TemplateKey: "welcome_email", TemplateVersion: "3", Subject: "Hi",
	}}, nil)
	require.NoError(t, err)

	_, builder, _ := registry.Get("welcome")
	job := &model.Job{JobID: "job_1", Params: map[string]interface{}{}}
	err = builder.BuildMessage(context.Background(), job, &model.Contact{Email: "user@example.com"}, nil, &model.EmailMessage{})
	assert.Error(t, err)
}
