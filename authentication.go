// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

// Authentication is the contract for the out-of-scope auth-primitive
// collaborator named in §1/§6: the client only needs a method name and
// a per-connection data blob to attach to CONNECT, not a concrete
// scheme implementation.
type Authentication interface {
	Name() string
	Data() ([]byte, error)
}

// AuthDisabled is the no-op Authentication used when WithAuthentication
// is never called.
type AuthDisabled struct{}

func (AuthDisabled) Name() string          { return "none" }
func (AuthDisabled) Data() ([]byte, error) { return nil, nil }
