// Copyright 2025 Certen Protocol
//
// Package acl implements the optional capability-gating check the router
// and composite settler apply before returning or composing over a
// lattice: tenant/role matching, a public escape hatch, and a strict mode
// that fails a query carrying no claims when it reaches a restricted,
// non-public row, rather than silently filtering that row out.
package acl

import "github.com/Maverick0351a/oscillinklattticedb/pkg/oerrors"

// Row is the per-lattice ACL metadata stored alongside its router/manifest
// row. A Row with no tenants, no roles, and Public false is treated as
// having no ACL restriction at all (missing ACL columns default to
// allow).
type Row struct {
	Tenants []string
	Roles   []string
	Public  bool
}

// Claims identifies the caller issuing a route/compose request.
type Claims struct {
	Tenant string
	Roles  []string
}

// Filter evaluates Rows against a caller's Claims. A nil *Filter allows
// everything (ACL filtering disabled).
type Filter struct {
	Claims *Claims
	Strict bool
}

// New builds a Filter. claims may be nil (anonymous caller); strict
// controls whether an anonymous caller is denied outright or merely
// restricted to public/unrestricted rows.
func New(claims *Claims, strict bool) *Filter {
	return &Filter{Claims: claims, Strict: strict}
}

// Allow reports whether row is visible to f's claims. Unrestricted and
// public rows are allowed without claims. Returns
// oerrors.ACLDenyMissingClaims if f is in strict mode, no claims were
// supplied, and row is restricted and not public.
func (f *Filter) Allow(row Row) (bool, error) {
	if f == nil {
		return true, nil
	}
	if !hasRestriction(row) {
		return true, nil
	}
	if row.Public || contains(row.Tenants, "public") {
		return true, nil
	}
	if f.Claims == nil {
		if f.Strict {
			return false, oerrors.New(oerrors.ACLDenyMissingClaims, "route/compose requires caller claims in strict ACL mode")
		}
		return false, nil
	}
	if contains(row.Tenants, f.Claims.Tenant) && intersects(row.Roles, f.Claims.Roles) {
		return true, nil
	}
	return false, nil
}

func hasRestriction(row Row) bool {
	return row.Public || len(row.Tenants) > 0 || len(row.Roles) > 0
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, x := range a {
		if contains(b, x) {
			return true
		}
	}
	return false
}
