// Copyright 2024-2025
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/lestrrat-go/jwx/jwa"
	"github.com/lestrrat-go/jwx/jwt"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Auth verifies the bearer token on every request and stores the caller's
// identity in c.Locals("userID") and c.Locals("role"). Tokens are HS256
// JWTs signed with auth.token_secret; the subject claim is the user id.
func Auth() fiber.Handler {
	secret := []byte(viper.GetString("auth.token_secret"))

	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			return jwtError(c, "missing authorization header")
		}

		raw := strings.TrimPrefix(header, "Bearer ")
		if raw == header {
			return jwtError(c, "authorization header is not a bearer token")
		}

		token, err := jwt.Parse([]byte(raw),
			jwt.WithVerify(jwa.HS256, secret),
			jwt.WithValidate(true),
		)
		if err != nil {
			log.Warn().Stack().Err(err).Msg("jwt authentication error")
			return jwtError(c, "invalid or expired token")
		}

		if token.Subject() == "" {
			return jwtError(c, "token has no subject")
		}

		role := "user"
		if claim, ok := token.Get("role"); ok {
			if s, ok := claim.(string); ok && s != "" {
				role = s
			}
		}

		c.Locals("userID", token.Subject())
		c.Locals("role", role)
		return c.Next()
	}
}

// RequireRole gates a route to callers carrying the given role claim
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		callerRole, _ := c.Locals("role").(string)
		if callerRole != role {
			return c.Status(fiber.StatusForbidden).
				JSON(fiber.Map{"success": false, "message": "insufficient privileges"})
		}
		return c.Next()
	}
}

func jwtError(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).
		JSON(fiber.Map{"success": false, "message": message})
}
