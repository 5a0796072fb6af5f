package sqlstore

import (
	"math"

	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	memoriesTable = "memories"
	entitiesTable = "memory_entities"

	textSize = math.MaxInt32
)

// Column names of the memories table.
const (
	colID            = "id"
	colFingerprint   = "fingerprint"
	colPatternType   = "pattern_type"
	colPatternIntent = "pattern_intent"
	colKeywords      = "keywords"
	colInvolvedTypes = "involved_types"
	colPattern       = "pattern"
	colEntities      = "entities"
	colRelationships = "relationships"
	colResult        = "result"
	colSummary       = "summary"
	colContext       = "context"
	colSessionID     = "session_id"
	colSourceTool    = "source_tool"
	colConfidence    = "confidence"
	colImportance    = "importance"
	colTier          = "tier"
	colValidated     = "validated"
	colLastValidated = "last_validated"
	colLastAccessed  = "last_accessed"
	colAccessCount   = "access_count"
	colRelated       = "related_memories"
	colExpiresAt     = "expires_at"
	colTags          = "tags"
	colCreatedAt     = "created_at"
	colUpdatedAt     = "updated_at"
)

// Column names of the memory_entities table.
const (
	colMemoryID   = "memory_id"
	colEntityType = "entity_type"
	colEntityID   = "entity_id"
	colEntityRole = "role"
)

// unitColumns is the select list used to load a full unit, in scan order.
var unitColumns = []string{
	colID, colFingerprint, colPattern, colEntities, colRelationships, colResult,
	colSummary, colContext, colConfidence, colImportance, colTier, colValidated,
	colLastValidated, colLastAccessed, colAccessCount, colRelated, colExpiresAt,
	colTags, colCreatedAt, colUpdatedAt,
}

var (
	// Timestamps are unix nanoseconds so range predicates compare integers
	// on every dialect. Zero stands for the zero time.
	memoriesColumns = []*schema.Column{
		{Name: colID, Type: field.TypeString, Size: 64},
		{Name: colFingerprint, Type: field.TypeString, Size: 128, Default: ""},
		{Name: colPatternType, Type: field.TypeString, Default: ""},
		{Name: colPatternIntent, Type: field.TypeString, Default: ""},
		{Name: colKeywords, Type: field.TypeString, Size: textSize, Default: ""},
		{Name: colInvolvedTypes, Type: field.TypeString, Size: textSize, Default: ""},
		{Name: colPattern, Type: field.TypeString, Size: textSize},
		{Name: colEntities, Type: field.TypeString, Size: textSize},
		{Name: colRelationships, Type: field.TypeString, Size: textSize},
		{Name: colResult, Type: field.TypeString, Size: textSize},
		{Name: colSummary, Type: field.TypeString, Size: textSize, Default: ""},
		{Name: colContext, Type: field.TypeString, Size: textSize},
		{Name: colSessionID, Type: field.TypeString, Default: ""},
		{Name: colSourceTool, Type: field.TypeString, Default: ""},
		{Name: colConfidence, Type: field.TypeFloat64},
		{Name: colImportance, Type: field.TypeFloat64},
		{Name: colTier, Type: field.TypeString, Size: 16},
		{Name: colValidated, Type: field.TypeBool, Default: false},
		{Name: colLastValidated, Type: field.TypeInt64, Nullable: true},
		{Name: colLastAccessed, Type: field.TypeInt64, Default: 0},
		{Name: colAccessCount, Type: field.TypeInt64, Default: 0},
		{Name: colRelated, Type: field.TypeString, Size: textSize, Default: ""},
		{Name: colExpiresAt, Type: field.TypeInt64, Nullable: true},
		{Name: colTags, Type: field.TypeString, Size: textSize, Default: ""},
		{Name: colCreatedAt, Type: field.TypeInt64},
		{Name: colUpdatedAt, Type: field.TypeInt64},
	}

	memoriesSchema = &schema.Table{
		Name:       memoriesTable,
		Columns:    memoriesColumns,
		PrimaryKey: []*schema.Column{memoriesColumns[0]},
		Indexes: []*schema.Index{
			{Name: "memory_fingerprint", Columns: []*schema.Column{memoriesColumns[1]}},
			{Name: "memory_pattern_type_intent", Columns: []*schema.Column{memoriesColumns[2], memoriesColumns[3]}},
			{Name: "memory_tier", Columns: []*schema.Column{memoriesColumns[16]}},
			{Name: "memory_expires_at", Columns: []*schema.Column{memoriesColumns[22]}},
			{Name: "memory_last_accessed", Columns: []*schema.Column{memoriesColumns[19]}},
		},
	}

	entitiesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: colMemoryID, Type: field.TypeString, Size: 64},
		{Name: colEntityType, Type: field.TypeString},
		{Name: colEntityID, Type: field.TypeString},
		{Name: colEntityRole, Type: field.TypeString, Default: ""},
	}

	entitiesSchema = &schema.Table{
		Name:       entitiesTable,
		Columns:    entitiesColumns,
		PrimaryKey: []*schema.Column{entitiesColumns[0]},
		Indexes: []*schema.Index{
			{Name: "memory_entity_type_id", Columns: []*schema.Column{entitiesColumns[2], entitiesColumns[3]}},
			{Name: "memory_entity_memory_id", Columns: []*schema.Column{entitiesColumns[1]}},
		},
	}

	// Tables is the full schema, in creation order.
	Tables = []*schema.Table{memoriesSchema, entitiesSchema}
)
