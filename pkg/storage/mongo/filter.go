package mongo

import (
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/papercomputeco/reminisce/pkg/memory"
)

func contains(s string) bson.Regex {
	return bson.Regex{Pattern: regexp.QuoteMeta(s), Options: "i"}
}

func exactFold(s string) bson.Regex {
	return bson.Regex{Pattern: "^" + regexp.QuoteMeta(s) + "$", Options: "i"}
}

// toFilter translates a filter into a query document.
func toFilter(f memory.Filter) bson.D {
	var and bson.A

	if len(f.IDs) > 0 {
		and = append(and, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: f.IDs}}}})
	}
	if f.Fingerprint != "" {
		and = append(and, bson.D{{Key: "fingerprint", Value: f.Fingerprint}})
	}
	if f.PatternType != "" {
		and = append(and, bson.D{{Key: "pattern.type", Value: contains(f.PatternType)}})
	}
	if f.Intent != "" {
		and = append(and, bson.D{{Key: "pattern.intent", Value: contains(f.Intent)}})
	}
	if len(f.Keywords) > 0 {
		var or bson.A
		for _, kw := range f.Keywords {
			or = append(or, bson.D{{Key: "pattern.keywords", Value: contains(kw)}})
		}
		and = append(and, bson.D{{Key: "$or", Value: or}})
	}
	if len(f.InvolvedTypes) > 0 {
		var or bson.A
		for _, t := range f.InvolvedTypes {
			or = append(or, bson.D{{Key: "pattern.involvedEntities.type", Value: exactFold(t)}})
		}
		and = append(and, bson.D{{Key: "$or", Value: or}})
	}
	if len(f.Entities) > 0 {
		var or bson.A
		for _, k := range f.Entities {
			k = k.Normalize()
			if k.ID == "" {
				or = append(or, bson.D{{Key: "entities.entityType", Value: k.Type}})
				continue
			}
			or = append(or, bson.D{{Key: "entities", Value: bson.D{{Key: "$elemMatch", Value: bson.D{
				{Key: "entityType", Value: k.Type},
				{Key: "entityId", Value: k.ID},
			}}}}})
		}
		and = append(and, bson.D{{Key: "$or", Value: or}})
	}
	if len(f.Tiers) > 0 {
		and = append(and, bson.D{{Key: "tier", Value: bson.D{{Key: "$in", Value: tierStrings(f.Tiers)}}}})
	}
	if len(f.ExcludeTiers) > 0 {
		and = append(and, bson.D{{Key: "tier", Value: bson.D{{Key: "$nin", Value: tierStrings(f.ExcludeTiers)}}}})
	}
	if len(f.Tags) > 0 {
		and = append(and, bson.D{{Key: "tags", Value: bson.D{{Key: "$in", Value: f.Tags}}}})
	}
	if f.MinConfidence != nil {
		and = append(and, bson.D{{Key: "confidence", Value: bson.D{{Key: "$gte", Value: *f.MinConfidence}}}})
	}
	if f.MaxConfidence != nil {
		and = append(and, bson.D{{Key: "confidence", Value: bson.D{{Key: "$lt", Value: *f.MaxConfidence}}}})
	}
	if f.ExpiredBefore != nil {
		and = append(and, bson.D{{Key: "expiresAt", Value: bson.D{{Key: "$lt", Value: *f.ExpiredBefore}}}})
	}
	if f.LiveAt != nil {
		and = append(and, bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "expiresAt", Value: nil}},
			bson.D{{Key: "expiresAt", Value: bson.D{{Key: "$gte", Value: *f.LiveAt}}}},
		}}})
	}
	if f.IdleBefore != nil {
		and = append(and, bson.D{{Key: "$or", Value: bson.A{
			bson.D{
				{Key: "lastAccessed", Value: nil},
				{Key: "createdAt", Value: bson.D{{Key: "$lt", Value: *f.IdleBefore}}},
			},
			bson.D{{Key: "lastAccessed", Value: bson.D{{Key: "$lt", Value: *f.IdleBefore}}}},
		}}})
	}
	if f.AccessedFrom != nil || f.AccessedTo != nil {
		and = append(and, bson.D{{Key: "lastAccessed", Value: accessWindow(f.AccessedFrom, f.AccessedTo)}})
	}
	if f.Validated != nil {
		and = append(and, bson.D{{Key: "validated", Value: *f.Validated}})
	}
	if f.RelatedTo != "" {
		and = append(and, bson.D{{Key: "relatedMemories", Value: f.RelatedTo}})
	}

	if len(and) == 0 {
		return bson.D{}
	}
	return bson.D{{Key: "$and", Value: and}}
}

func accessWindow(from, to *time.Time) bson.D {
	window := bson.D{{Key: "$ne", Value: nil}}
	if from != nil {
		window = append(window, bson.E{Key: "$gte", Value: *from})
	}
	if to != nil {
		window = append(window, bson.E{Key: "$lt", Value: *to})
	}
	return window
}

func tierStrings(tiers []memory.Tier) []string {
	out := make([]string, len(tiers))
	for i, t := range tiers {
		out[i] = string(t)
	}
	return out
}

func toSort(ordering []memory.Order) bson.D {
	var sort bson.D
	for _, o := range ordering {
		dir := 1
		if o.Desc {
			dir = -1
		}
		sort = append(sort, bson.E{Key: string(o.Field), Value: dir})
	}
	return sort
}
