package openapi_test

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oasbridge/oasbridge/internal/adapter/outbound/openapi"
	"github.com/oasbridge/oasbridge/internal/domain"
)

func newTestGenerator(t *testing.T) *openapi.ToolGenerator {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return openapi.NewToolGenerator(logger)
}

func loadDoc(t *testing.T, specJSON string) domain.APISchema {
	t.Helper()
	loader := &openapi3.Loader{Context: context.Background(), IsExternalRefsAllowed: true}
	doc, err := loader.LoadFromData([]byte(specJSON))
	require.NoError(t, err)
	return domain.APISchema{Source: "test", ParsedData: doc}
}

const petstoreJSON = `{
  "openapi": "3.0.0",
  "info": {"title": "Petstore", "version": "1.0.0"},
  "paths": {
    "/pets/{id}": {
      "get": {
        "operationId": "getPetById",
        "tags": ["pets"],
        "parameters": [
          {"name": "id", "in": "path", "required": true, "schema": {"type": "integer"}}
        ]
      }
    },
    "/pets": {
      "post": {
        "operationId": "createPet",
        "tags": ["pets"],
        "requestBody": {
          "required": true,
          "content": {
            "text/plain": {"schema": {"type": "string"}},
            "application/json": {
              "schema": {
                "type": "object",
                "properties": {
                  "name": {"type": "string", "description": "Pet name"},
                  "nickname": {"type": "string", "x-optional": true},
                  "age": {"type": "integer", "minimum": 0}
                },
                "required": ["name", "nickname"],
                "additionalProperties": true
              }
            }
          }
        }
      }
    },
    "/admin/audit": {
      "get": {"operationId": "listAudit", "tags": ["admin"]}
    }
  }
}`

func TestToolGenerator_Generate_PetScenario(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	g := newTestGenerator(t)

	tools, err := g.Generate(loadDoc(t, petstoreJSON), []string{"pets"})
	require.NoError(err)
	require.Len(tools, 2) // admin operation filtered out

	var get *domain.Tool
	for i := range tools {
		if tools[i].Name == "getpetbyid" {
			get = &tools[i]
		}
	}
	require.NotNil(get, "expected tool getpetbyid")

	assert.Equal("GET", get.Method)
	assert.Equal("/pets/{id}", get.Path)
	assert.Equal("getPetById", get.OperationID)
	assert.Equal("pets", get.Tag)

	require.Len(get.Parameters, 1)
	assert.Equal(domain.LocationPath, get.Parameters[0].In)
	assert.True(get.Parameters[0].Required)

	schema := get.InputSchema
	require.NotNil(schema)
	assert.Equal("object", schema.Type)
	assert.Equal([]string{"id"}, schema.Required)
	require.Contains(schema.Properties, "id")
	assert.Equal("integer", schema.Properties["id"].Type)
	require.NotNil(schema.AdditionalProperties)
	assert.False(*schema.AdditionalProperties)
}

func TestToolGenerator_Generate_BodySchema(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	g := newTestGenerator(t)

	tools, err := g.Generate(loadDoc(t, petstoreJSON), []string{"pets"})
	require.NoError(err)

	var create *domain.Tool
	for i := range tools {
		if tools[i].Name == "createpet" {
			create = &tools[i]
		}
	}
	require.NotNil(create, "expected tool createpet")

	// JSON preferred over the declared text/plain body.
	require.Len(create.Parameters, 1)
	body := create.Parameters[0]
	assert.Equal(domain.LocationBody, body.In)
	assert.Equal("application/json", body.ContentType)
	assert.True(body.Required)

	schema := create.InputSchema
	require.NotNil(schema)
	assert.ElementsMatch([]string{"name", "age", "nickname"}, keys(schema.Properties))
	// "nickname" is declared required but flagged x-optional.
	assert.Equal([]string{"name"}, schema.Required)
	require.NotNil(schema.AdditionalProperties)
	assert.False(*schema.AdditionalProperties, "input schemas are always closed")

	age := schema.Properties["age"]
	require.NotNil(age.Minimum)
	assert.Equal(float64(0), *age.Minimum)
}

func TestToolGenerator_Generate_Filtering(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	g := newTestGenerator(t)

	tests := []struct {
		name      string
		filter    []string
		wantCount int
	}{
		{name: "No filter compiles everything", filter: nil, wantCount: 3},
		{name: "All sentinel compiles everything", filter: []string{"all"}, wantCount: 3},
		{name: "Substring match is case-insensitive", filter: []string{"PET"}, wantCount: 2},
		{name: "Unmatched tag excludes", filter: []string{"billing"}, wantCount: 0},
		{name: "Multi-tag filter unions", filter: []string{"admin", "pets"}, wantCount: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tools, err := g.Generate(loadDoc(t, petstoreJSON), tt.filter)
			require.NoError(err)
			assert.Len(tools, tt.wantCount)
		})
	}
}

func TestToolGenerator_Generate_FallbackNameAndDescription(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	g := newTestGenerator(t)

	doc := loadDoc(t, `{
	  "openapi": "3.0.0",
	  "info": {"title": "t", "version": "1"},
	  "paths": {"/things/{thingId}/parts": {"get": {}}}
	}`)
	tools, err := g.Generate(doc, nil)
	require.NoError(err)
	require.Len(tools, 1)

	assert.Equal("get_things_thingid_parts", tools[0].Name)
	assert.Equal("Executes GET /things/{thingId}/parts", tools[0].Description)
	assert.NotNil(tools[0].InputSchema)
}

func TestToolGenerator_Generate_NameCollisionsDisambiguated(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	g := newTestGenerator(t)

	doc := loadDoc(t, `{
	  "openapi": "3.0.0",
	  "info": {"title": "t", "version": "1"},
	  "paths": {
	    "/a": {"get": {"operationId": "do_it"}},
	    "/b": {"get": {"operationId": "do-it"}}
	  }
	}`)
	tools, err := g.Generate(doc, nil)
	require.NoError(err)
	require.Len(tools, 2)

	names := []string{tools[0].Name, tools[1].Name}
	assert.ElementsMatch([]string{"do_it", "do_it_2"}, names)
}

func TestToolGenerator_Generate_CollisionChainStaysUnique(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	g := newTestGenerator(t)

	// The rename target of the second "dup" already belongs to an
	// operation of its own; every emitted name must still be unique.
	doc := loadDoc(t, `{
	  "openapi": "3.0.0",
	  "info": {"title": "t", "version": "1"},
	  "paths": {
	    "/a": {"get": {"operationId": "dup"}},
	    "/b": {"get": {"operationId": "dup"}},
	    "/c": {"get": {"operationId": "dup_2"}}
	  }
	}`)
	tools, err := g.Generate(doc, nil)
	require.NoError(err)
	require.Len(tools, 3)

	seen := make(map[string]bool)
	for _, tool := range tools {
		assert.False(seen[tool.Name], "duplicate tool name %q", tool.Name)
		seen[tool.Name] = true
	}
	assert.True(seen["dup"])
	assert.True(seen["dup_2"])
}

func TestToolGenerator_Generate_ReadMethodUsesParameters(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	g := newTestGenerator(t)

	doc := loadDoc(t, `{
	  "openapi": "3.0.0",
	  "info": {"title": "t", "version": "1"},
	  "paths": {
	    "/search": {
	      "get": {
	        "operationId": "search",
	        "parameters": [
	          {"name": "q", "in": "query", "required": true, "schema": {"type": "string"}},
	          {"name": "X-Trace", "in": "header", "schema": {"type": "string"}},
	          {"name": "session", "in": "cookie", "schema": {"type": "string"}}
	        ]
	      }
	    }
	  }
	}`)
	tools, err := g.Generate(doc, nil)
	require.NoError(err)
	require.Len(tools, 1)

	// Cookie parameters stay out of the input schema but remain bindable.
	schema := tools[0].InputSchema
	assert.ElementsMatch([]string{"q", "X-Trace"}, keys(schema.Properties))
	assert.Equal([]string{"q"}, schema.Required)
	assert.Len(tools[0].Parameters, 3)
}

func TestToolGenerator_Generate_MalformedDocument(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	g := newTestGenerator(t)

	t.Run("Wrong parsed data type", func(t *testing.T) {
		_, err := g.Generate(domain.APISchema{Source: "x", ParsedData: "not a document"}, nil)
		require.Error(err)
	})

	t.Run("Operation without anything usable still compiles", func(t *testing.T) {
		doc := loadDoc(t, `{
		  "openapi": "3.0.0",
		  "info": {"title": "t", "version": "1"},
		  "paths": {"/bare": {"post": {}}}
		}`)
		tools, err := g.Generate(doc, nil)
		require.NoError(err)
		require.Len(tools, 1)
		assert.Equal("post_bare", tools[0].Name)
		assert.Empty(tools[0].InputSchema.Properties)
	})
}

func TestToolGenerator_Tags(t *testing.T) {
	assert := assert.New(t)
	g := newTestGenerator(t)

	doc := loadDoc(t, `{
	  "openapi": "3.0.0",
	  "info": {"title": "t", "version": "1"},
	  "paths": {
	    "/a": {"get": {"tags": ["zoo", "pets"]}},
	    "/b": {"get": {"tags": ["pets"]}},
	    "/c": {"get": {}}
	  }
	}`)
	assert.Equal([]string{"pets", "zoo"}, g.Tags(doc))
	assert.Nil(g.Tags(domain.APISchema{ParsedData: nil}))
}

func keys(m map[string]*domain.SchemaNode) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
