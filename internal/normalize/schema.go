package normalize

import (
	"strings"

	"github.com/sells-group/catalog-engine/internal/model"
)

// FieldType is an inferred value shape for one raw field.
type FieldType string

const (
	TypeText    FieldType = "text"
	TypePrice   FieldType = "price"
	TypeInteger FieldType = "integer"
	TypeURL     FieldType = "url"
)

// InferredField summarizes one raw field across a candidate sample.
type InferredField struct {
	Name   string
	Type   FieldType
	Seen   int // candidates carrying the field
	Filled int // of those, non-empty
}

// Schema is the inferred field-type map for a candidate sample.
type Schema struct {
	Fields map[string]InferredField
	Sample int
}

// DetectSchema infers a field-type map from a sample of raw candidates by
// majority vote over each field's observed values.
func DetectSchema(sample []model.RawCandidate) Schema {
	type tally struct {
		seen, filled              int
		price, integer, url, text int
	}
	tallies := make(map[string]*tally)

	for _, cand := range sample {
		for name, value := range cand.Fields {
			tl, ok := tallies[name]
			if !ok {
				tl = &tally{}
				tallies[name] = tl
			}
			tl.seen++
			v := strings.TrimSpace(value)
			if v == "" {
				continue
			}
			tl.filled++
			switch inferType(v) {
			case TypePrice:
				tl.price++
			case TypeInteger:
				tl.integer++
			case TypeURL:
				tl.url++
			default:
				tl.text++
			}
		}
	}

	schema := Schema{Fields: make(map[string]InferredField, len(tallies)), Sample: len(sample)}
	for name, tl := range tallies {
		ft := TypeText
		best := tl.text
		if tl.price > best {
			ft, best = TypePrice, tl.price
		}
		if tl.integer > best {
			ft, best = TypeInteger, tl.integer
		}
		if tl.url > best {
			ft = TypeURL
		}
		schema.Fields[name] = InferredField{Name: name, Type: ft, Seen: tl.seen, Filled: tl.filled}
	}
	return schema
}

func inferType(v string) FieldType {
	switch {
	case strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://"):
		return TypeURL
	case priceMarkerAt(v):
		return TypePrice
	case isDigits(v):
		return TypeInteger
	default:
		return TypeText
	}
}

func priceMarkerAt(v string) bool {
	if strings.ContainsAny(v, "$") {
		return true
	}
	upper := strings.ToUpper(v)
	for _, code := range currencyCodes {
		if strings.Contains(upper, code+" ") || strings.HasSuffix(upper, code) {
			return true
		}
	}
	// Bare decimal like "1299.00" reads as a price, bare integers do not.
	return strings.ContainsAny(v, ".,") && isDigits(strings.Map(func(r rune) rune {
		if r == '.' || r == ',' {
			return -1
		}
		return r
	}, v))
}

func isDigits(v string) bool {
	if v == "" {
		return false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// canonicalAliases maps raw field spellings (English and Spanish) onto the
// canonical product schema.
var canonicalAliases = map[string]model.FieldRole{
	"name": model.RoleName, "nombre": model.RoleName, "producto": model.RoleName,
	"product": model.RoleName, "product_name": model.RoleName, "title": model.RoleName,
	"titulo": model.RoleName, "título": model.RoleName, "item": model.RoleName,

	"price": model.RolePrice, "precio": model.RolePrice, "cost": model.RolePrice,
	"costo": model.RolePrice, "unit_price": model.RolePrice, "precio_unitario": model.RolePrice,
	"amount": model.RolePrice,

	"sku": model.RoleSKU, "codigo": model.RoleSKU, "código": model.RoleSKU,
	"clave": model.RoleSKU, "code": model.RoleSKU, "barcode": model.RoleSKU,
	"upc": model.RoleSKU, "ean": model.RoleSKU, "product_id": model.RoleSKU,
	"part_number": model.RoleSKU, "numero_de_parte": model.RoleSKU,

	"brand": model.RoleBrand, "marca": model.RoleBrand, "manufacturer": model.RoleBrand,
	"fabricante": model.RoleBrand,

	"category": model.RoleCategory, "categoria": model.RoleCategory,
	"categoría": model.RoleCategory, "department": model.RoleCategory,
	"linea": model.RoleCategory, "línea": model.RoleCategory,

	"description": model.RoleDescription, "descripcion": model.RoleDescription,
	"descripción": model.RoleDescription, "details": model.RoleDescription,
	"detalles": model.RoleDescription,

	"image": model.RoleImage, "imagen": model.RoleImage, "foto": model.RoleImage,
	"image_url": model.RoleImage, "picture": model.RoleImage, "thumbnail": model.RoleImage,

	"stock": model.RoleStock, "existencia": model.RoleStock, "existencias": model.RoleStock,
	"inventario": model.RoleStock, "quantity": model.RoleStock, "qty": model.RoleStock,
	"cantidad": model.RoleStock, "inventory": model.RoleStock, "availability": model.RoleStock,

	"link": model.RoleLink, "url": model.RoleLink, "enlace": model.RoleLink,
}

// Mapping holds the rules that project raw candidate fields onto the
// canonical product schema.
type Mapping struct {
	// Renames maps raw field name to canonical role.
	Renames map[string]model.FieldRole
}

// BuildMapping derives mapping rules from an inferred schema: alias-table
// renames first, then type-based fallbacks for canonical roles no alias
// covered (a price-typed field maps to price, a URL field containing image
// hints maps to image).
func BuildMapping(schema Schema) Mapping {
	m := Mapping{Renames: make(map[string]model.FieldRole)}
	mapped := make(map[model.FieldRole]bool)

	for name := range schema.Fields {
		key := strings.ToLower(strings.TrimSpace(name))
		if role, ok := canonicalAliases[key]; ok {
			m.Renames[name] = role
			mapped[role] = true
		}
	}

	for name, f := range schema.Fields {
		if _, done := m.Renames[name]; done {
			continue
		}
		switch {
		case !mapped[model.RolePrice] && f.Type == TypePrice:
			m.Renames[name] = model.RolePrice
			mapped[model.RolePrice] = true
		case !mapped[model.RoleImage] && f.Type == TypeURL && looksImageField(name):
			m.Renames[name] = model.RoleImage
			mapped[model.RoleImage] = true
		case !mapped[model.RoleStock] && f.Type == TypeInteger && looksStockField(name):
			m.Renames[name] = model.RoleStock
			mapped[model.RoleStock] = true
		}
	}
	return m
}

func looksImageField(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range []string{"img", "image", "photo", "foto", "picture", "thumb"} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

func looksStockField(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range []string{"stock", "qty", "quant", "cant", "exist", "invent", "avail"} {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// Role returns the canonical role for a raw field, if the mapping covers it.
func (m Mapping) Role(rawField string) (model.FieldRole, bool) {
	role, ok := m.Renames[rawField]
	return role, ok
}
