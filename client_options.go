// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import "time"

// ClientOption configures some aspect of a Client.
type ClientOption func(c *clientOptions)

type clientOptions struct {
	serviceURL string

	operationTimeout time.Duration
	connectTimeout   time.Duration

	useTLS                     bool
	tlsHostnameVerification    bool
	tlsAllowInsecureConnection bool
	tlsTrustCertificate        string

	authentication Authentication
	logger         *Logger
}

func defaultClientOptions() *clientOptions {
	return &clientOptions{
		operationTimeout:        30 * time.Second,
		connectTimeout:          10 * time.Second,
		tlsHostnameVerification: true,
		authentication:          AuthDisabled{},
		logger:                  DefaultLogger,
	}
}

// WithServiceURL sets the broker/proxy service-url the client
// connects to, e.g. "pulsar://localhost:6650".
func WithServiceURL(url string) ClientOption {
	return func(c *clientOptions) { c.serviceURL = url }
}

// WithOperationTimeout bounds lookup/subscribe/create-producer budgets.
func WithOperationTimeout(d time.Duration) ClientOption {
	return func(c *clientOptions) { c.operationTimeout = d }
}

// WithConnectTimeout bounds how long a single TCP dial may take.
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *clientOptions) { c.connectTimeout = d }
}

// WithTLS records that the broker connection should use TLS. The
// setting is stored in the client options only: connections are
// dialed as plain TCP and no component reads it.
func WithTLS(allowInsecure bool) ClientOption {
	return func(c *clientOptions) {
		c.useTLS = true
		c.tlsAllowInsecureConnection = allowInsecure
	}
}

// WithTLSHostnameVerification records the hostname-verification
// setting for TLS. Like WithTLS, it is stored but not read.
func WithTLSHostnameVerification(enabled bool) ClientOption {
	return func(c *clientOptions) { c.tlsHostnameVerification = enabled }
}

// WithTLSTrustCertificate records a CA bundle path for TLS
// verification. Like WithTLS, it is stored but not read.
func WithTLSTrustCertificate(path string) ClientOption {
	return func(c *clientOptions) { c.tlsTrustCertificate = path }
}

// WithAuthentication records an Authentication provider (see
// authentication.go). The provider is stored in the client options;
// no CONNECT is sent, so its Name and Data are never called.
func WithAuthentication(auth Authentication) ClientOption {
	return func(c *clientOptions) { c.authentication = auth }
}

// WithClientLogger overrides the client's default logger.
func WithClientLogger(log *Logger) ClientOption {
	return func(c *clientOptions) { c.logger = log }
}
