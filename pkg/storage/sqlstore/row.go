package sqlstore

import (
	stdsql "database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/papercomputeco/reminisce/pkg/memory"
)

// row is the flattened column form of a unit.
type row struct {
	unit *memory.Unit

	pattern       string
	entities      string
	relationships string
	result        string
	context       string
	keywords      string
	involvedTypes string
}

func toRow(u *memory.Unit) (*row, error) {
	types := make([]string, 0, len(u.Pattern.InvolvedEntities))
	for _, e := range u.Pattern.InvolvedEntities {
		types = append(types, strings.ToLower(e.Type))
	}
	lists := []struct {
		field  string
		values []string
	}{
		{"pattern.keywords", u.Pattern.Keywords},
		{"pattern.involvedEntities.type", types},
		{"tags", u.Tags},
		{"relatedMemories", u.RelatedMemories},
	}
	for _, l := range lists {
		if err := checkList(l.field, l.values); err != nil {
			return nil, err
		}
	}

	r := &row{unit: u}

	fields := []struct {
		dst *string
		v   any
	}{
		{&r.pattern, u.Pattern},
		{&r.entities, nonNil(u.Entities)},
		{&r.relationships, nonNil(u.Relationships)},
		{&r.context, u.Context},
	}
	for _, f := range fields {
		b, err := json.Marshal(f.v)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal memory: %w", err)
		}
		*f.dst = string(b)
	}

	if len(u.Result) > 0 {
		r.result = string(u.Result)
	}

	r.keywords = joinList(u.Pattern.Keywords)
	r.involvedTypes = joinList(types)

	return r, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (r *row) columns() []string {
	return []string{
		colID, colFingerprint, colPatternType, colPatternIntent, colKeywords,
		colInvolvedTypes, colPattern, colEntities, colRelationships, colResult,
		colSummary, colContext, colSessionID, colSourceTool, colConfidence,
		colImportance, colTier, colValidated, colLastValidated, colLastAccessed,
		colAccessCount, colRelated, colExpiresAt, colTags, colCreatedAt, colUpdatedAt,
	}
}

func (r *row) values() []any {
	u := r.unit
	return []any{
		u.ID, u.Fingerprint, u.Pattern.Type, u.Pattern.Intent, r.keywords,
		r.involvedTypes, r.pattern, r.entities, r.relationships, r.result,
		u.Summary, r.context, u.Context.SessionID, u.Context.SourceTool, u.Confidence,
		u.Importance, string(u.Tier), u.Validated, nullableNanos(u.LastValidated), nanos(u.LastAccessed),
		u.AccessCount, joinList(u.RelatedMemories), nullableNanos(u.ExpiresAt), joinList(u.Tags),
		nanos(u.CreatedAt), nanos(u.UpdatedAt),
	}
}

func nullableNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return nanos(*t)
}

type scanner interface {
	Scan(dest ...any) error
}

// scanUnit reads one row selected with unitColumns.
func scanUnit(s scanner) (*memory.Unit, error) {
	var (
		u             memory.Unit
		pattern       string
		entities      string
		relationships string
		result        stdsql.NullString
		contextJSON   string
		tier          string
		lastValidated stdsql.NullInt64
		lastAccessed  int64
		related       string
		expiresAt     stdsql.NullInt64
		tags          string
		createdAt     int64
		updatedAt     int64
	)

	err := s.Scan(
		&u.ID, &u.Fingerprint, &pattern, &entities, &relationships, &result,
		&u.Summary, &contextJSON, &u.Confidence, &u.Importance, &tier, &u.Validated,
		&lastValidated, &lastAccessed, &u.AccessCount, &related, &expiresAt,
		&tags, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan memory: %w", err)
	}

	if err := json.Unmarshal([]byte(pattern), &u.Pattern); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pattern: %w", err)
	}
	if err := json.Unmarshal([]byte(entities), &u.Entities); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entities: %w", err)
	}
	if err := json.Unmarshal([]byte(relationships), &u.Relationships); err != nil {
		return nil, fmt.Errorf("failed to unmarshal relationships: %w", err)
	}
	if err := json.Unmarshal([]byte(contextJSON), &u.Context); err != nil {
		return nil, fmt.Errorf("failed to unmarshal context: %w", err)
	}
	if result.Valid && result.String != "" {
		u.Result = json.RawMessage(result.String)
	}
	if len(u.Entities) == 0 {
		u.Entities = nil
	}
	if len(u.Relationships) == 0 {
		u.Relationships = nil
	}

	u.Tier = memory.Tier(tier)
	u.LastAccessed = fromNanos(lastAccessed)
	u.RelatedMemories = splitList(related)
	u.Tags = splitList(tags)
	u.CreatedAt = fromNanos(createdAt)
	u.UpdatedAt = fromNanos(updatedAt)
	if lastValidated.Valid {
		t := fromNanos(lastValidated.Int64)
		u.LastValidated = &t
	}
	if expiresAt.Valid {
		t := fromNanos(expiresAt.Int64)
		u.ExpiresAt = &t
	}

	return &u, nil
}

func splitList(s string) []string {
	s = strings.Trim(s, listSep)
	if s == "" {
		return nil
	}
	return strings.Split(s, listSep)
}

func isConnError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
