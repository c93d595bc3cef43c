// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the pluggable collaborators of the journal
// service: authentication and audit logging.
//
// The defaults are no-op implementations suitable for a single-user local
// install. Deployments swap them in through ServiceOptions:
//
//	opts := extensions.DefaultOptions().
//	    WithAuth(tokenProvider).
//	    WithAudit(&extensions.SlogAuditLogger{Logger: logger})
//	svc, err := journal.New(cfg, opts)
package extensions

// ServiceOptions bundles the extension points passed to journal.New.
type ServiceOptions struct {
	// AuthProvider resolves bearer tokens. Default NopAuthProvider.
	AuthProvider AuthProvider

	// AuditLogger receives mutation events. Default NopAuditLogger.
	AuditLogger AuditLogger
}

// DefaultOptions returns no-op implementations for every extension point.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider: &NopAuthProvider{},
		AuditLogger:  &NopAuditLogger{},
	}
}

// WithAuth returns a copy with the auth provider replaced.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAudit returns a copy with the audit logger replaced.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}

// WithDefaults fills nil fields with no-op implementations.
func (opts ServiceOptions) WithDefaults() ServiceOptions {
	if opts.AuthProvider == nil {
		opts.AuthProvider = &NopAuthProvider{}
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = &NopAuditLogger{}
	}
	return opts
}
