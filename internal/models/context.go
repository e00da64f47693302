/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import (
	"context"

	"go.uber.org/zap"
)

type requestContextKey struct{}

// RequestContext carries inbound command metadata through context so that
// the engine and wallet layers can log it without widening their signatures.
type RequestContext struct {
	RequestId string // correlation id generated per inbound command
	UserId    string // chat platform user id
	Command   string // command name without the leading slash
}

// WithRequestContext attaches command metadata to a context.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// GetRequestContext retrieves command metadata from context, or nil if absent.
func GetRequestContext(ctx context.Context) *RequestContext {
	rc, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc
}

// LogFields returns the fields identifying the command behind ctx, or nil
// when ctx carries none.
func LogFields(ctx context.Context) []zap.Field {
	rc := GetRequestContext(ctx)
	if rc == nil {
		return nil
	}
	return []zap.Field{
		zap.String("request_id", rc.RequestId),
		zap.String("user_id", rc.UserId),
		zap.String("command", rc.Command),
	}
}
