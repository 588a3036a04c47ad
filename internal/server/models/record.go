// Package models contains the server-side data shapes shared by storage,
// the entity repository and the transports.
package models

import "time"

// Record is one stored entity: bookkeeping fields plus its domain Data.
type Record struct {
	ID         string
	Code       string
	NaturalKey string
	Revision   int
	Data       Document
	CreatedAt  time.Time
	CreatedBy  string
	ModifiedAt *time.Time
	ModifiedBy *string
	IsDeleted  bool
}

// Revision is an archived copy of a Record: everything but the identifier.
// EntityRef links the archive to its live entity and is never part of the view.
type Revision struct {
	EntityRef  string
	Code       string
	NaturalKey string
	Revision   int
	Data       Document
	CreatedAt  time.Time
	CreatedBy  string
	ModifiedAt *time.Time
	ModifiedBy *string
	IsDeleted  bool
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	c.Data = r.Data.Clone()
	if r.ModifiedAt != nil {
		t := *r.ModifiedAt
		c.ModifiedAt = &t
	}
	if r.ModifiedBy != nil {
		s := *r.ModifiedBy
		c.ModifiedBy = &s
	}
	return &c
}

// Snapshot returns the archive form of r stamped with the modification time and actor.
func (r *Record) Snapshot(at time.Time, by string) *Revision {
	return &Revision{
		EntityRef:  r.ID,
		Code:       r.Code,
		NaturalKey: r.NaturalKey,
		Revision:   r.Revision,
		Data:       r.Data.Clone(),
		CreatedAt:  r.CreatedAt,
		CreatedBy:  r.CreatedBy,
		ModifiedAt: &at,
		ModifiedBy: &by,
		IsDeleted:  r.IsDeleted,
	}
}

// View flattens the record into the response shape: domain fields plus
// _id, code, revision and the audit stamps.
func (r *Record) View() Document {
	out := r.Data.Clone()
	if out == nil {
		out = Document{}
	}
	out["_id"] = r.ID
	if r.Code != "" {
		out["code"] = r.Code
	}
	out["revision"] = r.Revision
	out["createdAt"] = r.CreatedAt
	out["createdBy"] = r.CreatedBy
	out["modifiedAt"] = r.ModifiedAt
	out["modifiedBy"] = r.ModifiedBy
	out["isDeleted"] = r.IsDeleted
	return out
}

// View flattens an archived revision the same way Record.View does, minus _id.
func (r *Revision) View() Document {
	out := r.Data.Clone()
	if out == nil {
		out = Document{}
	}
	if r.Code != "" {
		out["code"] = r.Code
	}
	out["revision"] = r.Revision
	out["createdAt"] = r.CreatedAt
	out["createdBy"] = r.CreatedBy
	out["modifiedAt"] = r.ModifiedAt
	out["modifiedBy"] = r.ModifiedBy
	out["isDeleted"] = r.IsDeleted
	return out
}
