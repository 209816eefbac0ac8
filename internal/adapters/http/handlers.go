package http

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/nearchat/internal/core/domain"
)

// updateLocationRequest is the body of PUT /v1/location.
type updateLocationRequest struct {
	Longitude *float64 `json:"longitude"`
	Latitude  *float64 `json:"latitude"`
	Accuracy  *float64 `json:"accuracy"`
	Source    string   `json:"source"`
}

// UpdateLocationHandler records the caller's position.
func UpdateLocationHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req updateLocationRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if req.Longitude == nil || req.Latitude == nil {
			return errBadRequest(c, "longitude and latitude are required")
		}
		if len(req.Source) > 64 {
			return errBadRequest(c, "source too long (max 64 characters)")
		}

		err := deps.Locations.UpdateUserLocation(c.UserContext(), domain.LocationUpdate{
			UserID:    currentSession(c).UserID,
			Longitude: *req.Longitude,
			Latitude:  *req.Latitude,
			Accuracy:  req.Accuracy,
			Source:    req.Source,
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"status": "updated"})
	}
}

// RemoveLocationHandler opts the caller out of location tracking.
func RemoveLocationHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := deps.Locations.RemoveUserLocation(c.UserContext(), currentSession(c).UserID); err != nil {
			return respondError(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// LocationStatusHandler reports what is stored about the caller's location.
func LocationStatusHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		st, err := deps.Locations.GetUserLocationStatus(c.UserContext(), currentSession(c).UserID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(st)
	}
}

// UpdatePrivacyHandler changes the caller's visibility settings.
func UpdatePrivacyHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req domain.PrivacyUpdate
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if req.IsPubliclyVisible == nil && req.PublicRadiusKm == nil {
			return errBadRequest(c, "isPubliclyVisible or publicRadiusKm is required")
		}

		if err := deps.Locations.UpdateLocationPrivacy(c.UserContext(), currentSession(c).UserID, req); err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"status": "updated"})
	}
}

// NearbyUsersHandler lists public users around the caller.
func NearbyUsersHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rawRadius := c.Query("radius_km")
		if rawRadius == "" {
			return errBadRequest(c, "radius_km query parameter is required")
		}
		radius, err := strconv.ParseFloat(rawRadius, 64)
		if err != nil {
			return errBadRequest(c, "radius_km must be a number")
		}
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			if limit, err = strconv.Atoi(raw); err != nil {
				return errBadRequest(c, "limit must be an integer")
			}
		}

		users, err := deps.Locations.GetNearbyUsers(c.UserContext(), currentSession(c).UserID, radius, limit)
		if err != nil {
			return respondError(c, err)
		}
		if users == nil {
			users = []domain.NearbyUser{}
		}
		return c.JSON(fiber.Map{
			"users":    users,
			"count":    len(users),
			"radiusKm": radius,
		})
	}
}

// DistanceHandler discloses the distance to another user when the target's
// privacy settings allow it.
func DistanceHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		requester := currentSession(c).UserID
		target := c.Params("userId")

		decision, err := deps.Locations.ValidateLocationAccess(c.UserContext(), requester, target)
		if err != nil {
			return respondError(c, err)
		}
		if !decision.Allowed {
			return errForbidden(c, decision.Reason)
		}

		res, err := deps.Locations.GetDistanceBetweenUsers(c.UserContext(), requester, target)
		if err != nil {
			return respondError(c, err)
		}
		if !res.Available {
			return errNotFound(c, "location_not_found", "location data not available")
		}
		return c.JSON(fiber.Map{"userId": target, "distanceKm": res.DistanceKm})
	}
}

// AccessHandler reports whether the caller may see a user's distance.
func AccessHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		decision, err := deps.Locations.ValidateLocationAccess(c.UserContext(), currentSession(c).UserID, c.Params("userId"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(decision)
	}
}
