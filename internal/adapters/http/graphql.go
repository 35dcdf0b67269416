package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"
)

// buildSchema creates the GraphQL schema wired to our services.
// Field names follow the JSON tags of the domain types, which the default
// resolver reads.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	placeType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Place",
		Fields: graphql.Fields{
			"id":      &graphql.Field{Type: graphql.String},
			"name_en": &graphql.Field{Type: graphql.String},
			"name_ru": &graphql.Field{Type: graphql.String},
			"name_kk": &graphql.Field{Type: graphql.String},
			"lat":     &graphql.Field{Type: graphql.Float},
			"lng":     &graphql.Field{Type: graphql.Float},
			"anchor":  &graphql.Field{Type: geoPointType},
		},
	})

	stopType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Stop",
		Fields: graphql.Fields{
			"lat":            &graphql.Field{Type: graphql.Float},
			"lng":            &graphql.Field{Type: graphql.Float},
			"title":          &graphql.Field{Type: graphql.String},
			"location_label": &graphql.Field{Type: graphql.String},
			"day":            &graphql.Field{Type: graphql.Int},
			"time":           &graphql.Field{Type: graphql.String},
			"category":       &graphql.Field{Type: graphql.String},
			"notes":          &graphql.Field{Type: graphql.String},
			"time_of_day":    &graphql.Field{Type: graphql.String},
			"cost":           &graphql.Field{Type: graphql.Float},
			"place_id":       &graphql.Field{Type: graphql.String},
			"source":         &graphql.Field{Type: graphql.String},
		},
	})

	panoramaType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Panorama",
		Fields: graphql.Fields{
			"visible":    &graphql.Field{Type: graphql.Boolean},
			"stop_index": &graphql.Field{Type: graphql.Int},
			"anchor":     &graphql.Field{Type: geoPointType},
			"heading":    &graphql.Field{Type: graphql.Float},
			"fullscreen": &graphql.Field{Type: graphql.Boolean},
		},
	})

	flyoverType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Flyover",
		Fields: graphql.Fields{
			"id":           &graphql.Field{Type: graphql.String},
			"phase":        &graphql.Field{Type: graphql.String},
			"progress":     &graphql.Field{Type: graphql.Int},
			"stops":        &graphql.Field{Type: graphql.NewList(stopType)},
			"held_index":   &graphql.Field{Type: graphql.Int},
			"resume_index": &graphql.Field{Type: graphql.Int},
			"speed":        &graphql.Field{Type: graphql.Float},
			"backend":      &graphql.Field{Type: graphql.String},
			"panorama":     &graphql.Field{Type: panoramaType},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"flyover": &graphql.Field{
				Type:        flyoverType,
				Description: "Current state of a flyover session",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id, _ := p.Args["id"].(string)
					return deps.Flyovers.Snapshot(id)
				},
			},
			"places": &graphql.Field{
				Type:        graphql.NewList(placeType),
				Description: "Search gazetteer places by name in any language",
				Args: graphql.FieldConfigArgument{
					"q":     &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"limit": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 10},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					q, _ := p.Args["q"].(string)
					limit, _ := p.Args["limit"].(int)
					if q == "" {
						return nil, errors.New("q must not be empty")
					}
					return deps.Gazetteer.Search(q, limit), nil
				},
			},
			"place": &graphql.Field{
				Type:        placeType,
				Description: "Get a gazetteer place by id",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					id, _ := p.Args["id"].(string)
					place, ok := deps.Gazetteer.Get(id)
					if !ok {
						return nil, nil
					}
					return place, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
