// Copyright 2019 The klaytn Authors
// This file is part of the klaytn library.
//
// The klaytn library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The klaytn library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the klaytn library. If not, see <http://www.gnu.org/licenses/>.

// Package nodes is the Bitcoin Core JSON-RPC 1.0 client (spec.md §6):
// node-role assertion, and the fixed set of RPC methods the workers call.
package nodes

import "strings"

// Role is a Bitcoin node's pruning mode, asserted at worker startup
// (spec.md §6: "workers assert node role at startup, e.g. block history
// queries require full").
type Role int

const (
	RoleUnknown Role = iota
	RoleFull
	RolePruned
)

func ConvertStringToRole(role string) Role {
	switch strings.ToUpper(role) {
	case "FULL":
		return RoleFull
	case "PRUNED":
		return RolePruned
	default:
		return RoleUnknown
	}
}

func (r Role) String() string {
	switch r {
	case RoleFull:
		return "full"
	case RolePruned:
		return "pruned"
	default:
		return "unknown"
	}
}

// RoleFromBlockchainInfo infers the node's role from getblockchaininfo's
// pruned flag, for workers configured without an explicit role override.
func RoleFromBlockchainInfo(pruned bool) Role {
	if pruned {
		return RolePruned
	}
	return RoleFull
}

// RequireFull returns an error if role is not RoleFull, for workers (e.g.
// block-history backfill) that cannot operate against a pruned node.
func RequireFull(role Role) error {
	if role != RoleFull {
		return &RoleError{Required: RoleFull, Got: role}
	}
	return nil
}

// RoleError reports a node-role assertion failure.
type RoleError struct {
	Required Role
	Got      Role
}

func (e *RoleError) Error() string {
	return "node role assertion failed: required " + e.Required.String() + ", got " + e.Got.String()
}
