package http

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/nearchat/internal/core/domain"
)

const sessionKey ctxKey = "session"

// sessionFromCtx returns the caller's session placed in the resolver context
// by GraphQLHandler.
func sessionFromCtx(ctx context.Context) (*domain.Session, error) {
	sess, ok := ctx.Value(sessionKey).(*domain.Session)
	if !ok || sess == nil {
		return nil, domain.ErrUnauthorized
	}
	return sess, nil
}

// gqlError hides store and internal failures from GraphQL clients.
func gqlError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrNoLocationData),
		errors.Is(err, domain.ErrUnauthorized):
		return err
	}
	LoggerFromCtx(ctx).Error("graphql resolver failed", "error", err)
	if errors.Is(err, domain.ErrStore) {
		return errors.New("location store temporarily unavailable")
	}
	return errors.New("internal server error")
}

// buildSchema creates the GraphQL schema wired to our services.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	nearbyUserType := graphql.NewObject(graphql.ObjectConfig{
		Name: "NearbyUser",
		Fields: graphql.Fields{
			"userId":     &graphql.Field{Type: graphql.String},
			"name":       &graphql.Field{Type: graphql.String},
			"email":      &graphql.Field{Type: graphql.String},
			"distanceKm": &graphql.Field{Type: graphql.Float},
		},
	})

	statusType := graphql.NewObject(graphql.ObjectConfig{
		Name: "LocationStatus",
		Fields: graphql.Fields{
			"hasLocation":       &graphql.Field{Type: graphql.Boolean},
			"ttlSeconds":        &graphql.Field{Type: graphql.Int},
			"lastUpdate":        &graphql.Field{Type: graphql.String},
			"accuracy":          &graphql.Field{Type: graphql.String},
			"source":            &graphql.Field{Type: graphql.String},
			"isPubliclyVisible": &graphql.Field{Type: graphql.Boolean},
			"publicRadiusKm":    &graphql.Field{Type: graphql.Float},
		},
	})

	accessType := graphql.NewObject(graphql.ObjectConfig{
		Name: "AccessDecision",
		Fields: graphql.Fields{
			"allowed": &graphql.Field{Type: graphql.Boolean},
			"reason":  &graphql.Field{Type: graphql.String},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"nearbyUsers": &graphql.Field{
				Type:        graphql.NewList(nearbyUserType),
				Description: "Publicly visible users near the caller",
				Args: graphql.FieldConfigArgument{
					"radiusKm": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"limit":    &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sess, err := sessionFromCtx(p.Context)
					if err != nil {
						return nil, err
					}
					users, err := deps.Locations.GetNearbyUsers(p.Context, sess.UserID,
						p.Args["radiusKm"].(float64), p.Args["limit"].(int))
					if err != nil {
						return nil, gqlError(p.Context, err)
					}
					return users, nil
				},
			},
			"locationStatus": &graphql.Field{
				Type:        statusType,
				Description: "What is stored about the caller's location",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sess, err := sessionFromCtx(p.Context)
					if err != nil {
						return nil, err
					}
					st, err := deps.Locations.GetUserLocationStatus(p.Context, sess.UserID)
					if err != nil {
						return nil, gqlError(p.Context, err)
					}
					return st, nil
				},
			},
			"locationAccess": &graphql.Field{
				Type:        accessType,
				Description: "Whether the caller may see a user's distance",
				Args: graphql.FieldConfigArgument{
					"userId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sess, err := sessionFromCtx(p.Context)
					if err != nil {
						return nil, err
					}
					d, err := deps.Locations.ValidateLocationAccess(p.Context, sess.UserID, p.Args["userId"].(string))
					if err != nil {
						return nil, gqlError(p.Context, err)
					}
					return d, nil
				},
			},
			"distanceTo": &graphql.Field{
				Type:        graphql.Float,
				Description: "Rounded distance in km to a user, null when unavailable",
				Args: graphql.FieldConfigArgument{
					"userId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sess, err := sessionFromCtx(p.Context)
					if err != nil {
						return nil, err
					}
					target := p.Args["userId"].(string)
					d, err := deps.Locations.ValidateLocationAccess(p.Context, sess.UserID, target)
					if err != nil {
						return nil, gqlError(p.Context, err)
					}
					if !d.Allowed {
						return nil, errors.New("access denied: " + d.Reason)
					}
					res, err := deps.Locations.GetDistanceBetweenUsers(p.Context, sess.UserID, target)
					if err != nil {
						return nil, gqlError(p.Context, err)
					}
					if !res.Available {
						return nil, nil
					}
					return res.DistanceKm, nil
				},
			},
		},
	})

	mutationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"updateLocation": &graphql.Field{
				Type: graphql.Boolean,
				Args: graphql.FieldConfigArgument{
					"longitude": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"latitude":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"accuracy":  &graphql.ArgumentConfig{Type: graphql.Float},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sess, err := sessionFromCtx(p.Context)
					if err != nil {
						return nil, err
					}
					u := domain.LocationUpdate{
						UserID:    sess.UserID,
						Longitude: p.Args["longitude"].(float64),
						Latitude:  p.Args["latitude"].(float64),
					}
					if acc, ok := p.Args["accuracy"].(float64); ok {
						u.Accuracy = &acc
					}
					if err := deps.Locations.UpdateUserLocation(p.Context, u); err != nil {
						return nil, gqlError(p.Context, err)
					}
					return true, nil
				},
			},
			"removeLocation": &graphql.Field{
				Type: graphql.Boolean,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sess, err := sessionFromCtx(p.Context)
					if err != nil {
						return nil, err
					}
					if err := deps.Locations.RemoveUserLocation(p.Context, sess.UserID); err != nil {
						return nil, gqlError(p.Context, err)
					}
					return true, nil
				},
			},
			"updatePrivacy": &graphql.Field{
				Type: graphql.Boolean,
				Args: graphql.FieldConfigArgument{
					"isPubliclyVisible": &graphql.ArgumentConfig{Type: graphql.Boolean},
					"publicRadiusKm":    &graphql.ArgumentConfig{Type: graphql.Float},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sess, err := sessionFromCtx(p.Context)
					if err != nil {
						return nil, err
					}
					var upd domain.PrivacyUpdate
					if v, ok := p.Args["isPubliclyVisible"].(bool); ok {
						upd.IsPubliclyVisible = &v
					}
					if v, ok := p.Args["publicRadiusKm"].(float64); ok {
						upd.PublicRadiusKm = &v
					}
					if err := deps.Locations.UpdateLocationPrivacy(p.Context, sess.UserID, upd); err != nil {
						return nil, gqlError(p.Context, err)
					}
					return true, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:    queryType,
		Mutation: mutationType,
	})
}

// GraphQLHandler serves the GraphQL endpoint. It must run behind
// AuthMiddleware.
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
			return errBadRequest(c, "invalid request body")
		}

		ctx := context.WithValue(c.UserContext(), sessionKey, currentSession(c))
		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        ctx,
		})

		return c.JSON(result)
	}
}
