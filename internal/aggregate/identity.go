package aggregate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sells-group/fedprobe/internal/model"
)

// identityFields lists, per domain, the natural-key fields an identity is
// derived from. Unlisted domains fall back to hashing every field.
var identityFields = map[model.Domain][]string{
	model.DomainContracts: {model.FieldContractNumber, model.FieldOrg, model.FieldYear},
	model.DomainBiddings:  {model.FieldBiddingID, model.FieldOrg},
	model.DomainSuppliers: {model.FieldSupplierTaxID, model.FieldSupplier},
	model.DomainServants:  {model.FieldRegistration, model.FieldOrg},
	model.DomainExpenses:  {model.FieldOrg, model.FieldDescription, model.FieldYear},
	model.DomainTransfers: {model.FieldTransferFrom, model.FieldTransferTo, model.FieldTransferAt},
}

// IdentityKey derives a deterministic identity for a record from its
// normalized natural keys. Records lacking year fields borrow it from the
// signing date so differently-shaped sources still collide.
func IdentityKey(rec model.Record) string {
	keys, ok := identityFields[rec.Domain]
	if !ok {
		keys = sortedFieldNames(rec)
	}

	parts := make([]string, 0, len(keys)+1)
	parts = append(parts, string(rec.Domain))
	for _, k := range keys {
		parts = append(parts, Normalize(keyComponent(rec, k)))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:16])
}

func keyComponent(rec model.Record, key string) string {
	if key == model.FieldYear {
		if y, ok := rec.FloatField(model.FieldYear); ok {
			return fmt.Sprintf("%d", int(y))
		}
		if s := rec.StringField(model.FieldYear); s != "" {
			return s
		}
		if t, ok := rec.TimeField(model.FieldSignedAt); ok {
			return fmt.Sprintf("%d", t.Year())
		}
		return ""
	}

	switch v := rec.Fields[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func sortedFieldNames(rec model.Record) []string {
	names := make([]string, 0, len(rec.Fields))
	for k := range rec.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
