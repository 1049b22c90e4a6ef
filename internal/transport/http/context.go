// Copyright 2026 The JeMa Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"context"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/saltstack/jema/internal/authz"
	"github.com/saltstack/jema/internal/identity"
)

type contextKey string

const bearerKey contextKey = "bearer"

// GetIdentity returns the request identity, anonymous when none was loaded.
func GetIdentity(ctx context.Context) *authz.Identity {
	return authz.FromContext(ctx)
}

// GetAccount returns the signed-in account, or nil.
func GetAccount(ctx context.Context) *identity.Account {
	return authz.FromContext(ctx).Account
}

// GetActorID returns the signed-in account id as a string, or "".
func GetActorID(ctx context.Context) string {
	if a := GetAccount(ctx); a != nil {
		return strconv.FormatInt(a.ID, 10)
	}
	return ""
}

func withBearer(ctx context.Context) context.Context {
	return context.WithValue(ctx, bearerKey, true)
}

// wantsJSON reports whether failures should be answered with a JSON body
// instead of a notice and redirect.
func wantsJSON(r *http.Request) bool {
	if v, _ := r.Context().Value(bearerKey).(bool); v {
		return true
	}
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mediaType == "application/json" {
			return true
		}
	}
	return false
}
