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
	"fmt"

	"github.com/surelv/courier/config"
	"github.com/surelv/courier/model"
)

// Recipe is one named job template, parsed from configuration at startup.
// Recipes never persist; the job row carries everything derived from them.
type Recipe struct {
	Name                string
	Kind                model.JobKind
	FlowKey             string
	StableKeys          []string
	DedupeTemplate      string
	DedupeParams        []string
	DefaultDelaySeconds int
	DefaultPriority     int
	TemplateKey         string
	TemplateVersion     string
	Subject             string
	Headers             map[string]string
}

// MessageBuilder populates a preallocated delivery record with content for
// one recipient. Implementations mutate msg in place; returning an error
// marks the recipient as a fulfillment failure and rolls the record back.
type MessageBuilder interface {
	BuildMessage(ctx context.Context, job *model.Job, contact *model.Contact, member *model.ListMember, msg *model.EmailMessage) error
}

// RecipeRegistry maps recipe names to their definitions and builders. The
// registry is built once at startup and validated eagerly: a recipe without
// a builder is a construction error, not a first-use surprise.
type RecipeRegistry struct {
	recipes  map[string]*Recipe
	builders map[string]MessageBuilder
}

// NewRecipeRegistry parses configured recipes and binds each to a builder.
// A nil builders entry for a recipe falls back to the recipe's own
// config-driven builder; an explicit builder map entry for an unknown recipe
// is rejected to surface stale wiring.
func NewRecipeRegistry(confRecipes []config.RecipeConfig, builders map[string]MessageBuilder) (*RecipeRegistry, error) {
	registry := &RecipeRegistry{
		recipes:  make(map[string]*Recipe, len(confRecipes)),
		builders: make(map[string]MessageBuilder, len(confRecipes)),
	}

	for _, rc := range confRecipes {
		if rc.Name == "" {
			return nil, fmt.Errorf("recipe with empty name in configuration")
		}
		if _, dup := registry.recipes[rc.Name]; dup {
			return nil, fmt.Errorf("duplicate recipe %q in configuration", rc.Name)
		}
		kind, err := model.ParseJobKind(rc.Kind)
		if err != nil {
			return nil, fmt.Errorf("recipe %q: %w", rc.Name, err)
		}
		recipe := &Recipe{
			Name:                rc.Name,
			Kind:                kind,
			FlowKey:             rc.FlowKey,
			StableKeys:          rc.StableKeys,
			DedupeTemplate:      rc.DedupeTemplate,
			DedupeParams:        rc.DedupeParams,
			DefaultDelaySeconds: rc.DefaultDelaySeconds,
			DefaultPriority:     rc.DefaultPriority,
			TemplateKey:         rc.TemplateKey,
			TemplateVersion:     rc.TemplateVersion,
			Subject:             rc.Subject,
			Headers:             rc.Headers,
		}
		registry.recipes[rc.Name] = recipe

		if builder, ok := builders[rc.Name]; ok {
			registry.builders[rc.Name] = builder
		} else {
			registry.builders[rc.Name] = &RecipeBuilder{recipe: recipe}
		}
	}

	for name := range builders {
		if _, ok := registry.recipes[name]; !ok {
			return nil, fmt.Errorf("builder registered for unknown recipe %q", name)
		}
	}

	return registry, nil
}

// Get returns the recipe and its builder, or false when the name is unknown.
func (r *RecipeRegistry) Get(name string) (*Recipe, MessageBuilder, bool) {
	recipe, ok := r.recipes[name]
	if !ok {
		return nil, nil, false
	}
	return recipe, r.builders[name], true
}

// RecipeBuilder fulfills delivery records straight from recipe configuration
// and global email defaults, taking pre-rendered bodies from the job's
// params. Anything needing a real rendering pipeline registers its own
// builder for the recipe instead.
type RecipeBuilder struct {
	recipe *Recipe
}

func (b *RecipeBuilder) BuildMessage(_ context.Context, job *model.Job, contact *model.Contact, _ *model.ListMember, msg *model.EmailMessage) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	msg.Subject = b.recipe.Subject
	if subject, ok := job.Params["subject"].(string); ok && subject != "" {
		msg.Subject = subject
	}
	msg.FromEmail = cnf.Email.DefaultFrom
	msg.ReplyTo = cnf.Email.DefaultReplyTo
	msg.ToEmail = contact.Email
	msg.TemplateKey = b.recipe.TemplateKey
	msg.TemplateVersion = b.recipe.TemplateVersion
	if body, ok := job.Params["body_html"].(string); ok {
		msg.BodyHTML = body
	}
	if body, ok := job.Params["body_plain"].(string); ok {
		msg.BodyPlain = body
	}
	if len(b.recipe.Headers) > 0 {
		msg.Headers = make(map[string]string, len(b.recipe.Headers))
		for k, v := range b.recipe.Headers {
			msg.Headers[k] = v
		}
	}
	if msg.BodyHTML == "" {
		return fmt.Errorf("recipe %q has no rendered content for template %s@%s", b.recipe.Name, b.recipe.TemplateKey, b.recipe.TemplateVersion)
	}
	return nil
}
