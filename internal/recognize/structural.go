package recognize

import (
	"regexp"
	"strings"

	"github.com/sells-group/catalog-engine/internal/model"
)

// Region is one candidate record area located by the structural pass.
type Region struct {
	Content string
	// Hint describes the region shape for the recognition capability:
	// "table", "listing", "scanned", or "text".
	Hint string
}

func defaultHint(t model.SourceType) string {
	switch t {
	case model.SourceTypeWeb:
		return "listing"
	case model.SourceTypeDocument:
		return "scanned"
	default:
		return "text"
	}
}

// splitRegions locates repeating record regions in page content: markdown
// table blocks first, then blank-line-separated blocks that look like
// product listings (a price marker or an image). Pages with no recognizable
// structure become a single region so nothing is silently skipped.
func splitRegions(content, hint string) []Region {
	var regions []Region
	var rest []string

	lines := strings.Split(content, "\n")
	for i := 0; i < len(lines); {
		if isTableLine(lines[i]) {
			j := i
			for j < len(lines) && isTableLine(lines[j]) {
				j++
			}
			if j-i >= 3 { // header, separator, at least one row
				regions = append(regions, Region{
					Content: strings.Join(lines[i:j], "\n"),
					Hint:    "table",
				})
				i = j
				continue
			}
		}
		rest = append(rest, lines[i])
		i++
	}

	var listing []Region
	var plain []string
	for _, block := range splitBlocks(strings.Join(rest, "\n")) {
		if looksLikeListing(block) {
			listing = append(listing, Region{Content: block, Hint: hint})
		} else {
			plain = append(plain, block)
		}
	}

	switch {
	case len(listing) > 0:
		regions = append(regions, listing...)
	case len(regions) == 0 && len(plain) > 0:
		// No structure found anywhere: hand the whole page over.
		regions = append(regions, Region{Content: strings.Join(plain, "\n\n"), Hint: hint})
	}
	return regions
}

func isTableLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "|") && strings.Count(trimmed, "|") >= 2
}

func splitBlocks(s string) []string {
	var blocks []string
	for _, b := range strings.Split(s, "\n\n") {
		if strings.TrimSpace(b) != "" {
			blocks = append(blocks, strings.TrimSpace(b))
		}
	}
	return blocks
}

var priceMarker = regexp.MustCompile(`(?:\$|MXN|USD|EUR)\s?\d`)

// looksLikeListing reports whether a text block plausibly holds product
// records: a currency amount or a markdown image.
func looksLikeListing(block string) bool {
	return strings.Contains(block, "![") || priceMarker.MatchString(block)
}

// productLine matches one "NAME ... $PRICE" catalog line, the dominant
// layout in scanned price lists. Group 1 is the name, group 2 the price.
var productLine = regexp.MustCompile(`^(.{3,80}?)[\s.·_]{2,}(\$?\s?[\d][\d.,]*\s?(?:MXN|USD|EUR|mx|m\.n\.)?|\$\s?[\d][\d.,]*)\s*$`)

var headerWords = map[string]bool{
	"total": true, "subtotal": true, "iva": true, "precio": true, "price": true,
	"producto": true, "product": true, "descripcion": true, "descripción": true,
	"pagina": true, "página": true, "page": true, "cantidad": true,
}

// likelyName filters product-line matches: long enough, not numeric, not a
// column heading or totals row.
func likelyName(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 3 {
		return false
	}
	if headerWords[strings.ToLower(s)] {
		return false
	}
	hasLetter := false
	for _, r := range s {
		if ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || r > 127 {
			hasLetter = true
			break
		}
	}
	return hasLetter
}

// parseProductLines extracts "NAME ... $PRICE" rows from a scanned-text
// region. Used only when at least two lines match, so a stray amount in
// running text never bypasses the content pass.
func parseProductLines(block string) []map[string]string {
	var rows []map[string]string
	for _, line := range strings.Split(block, "\n") {
		m := productLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil || !likelyName(m[1]) {
			continue
		}
		rows = append(rows, map[string]string{
			string(model.RoleName):  strings.TrimSpace(m[1]),
			string(model.RolePrice): strings.TrimSpace(m[2]),
		})
	}
	if len(rows) < 2 {
		return nil
	}
	return rows
}

// headerRoles maps common column headings (English and Spanish) onto field
// roles. Markdown tables whose header resolves a name column plus at least
// one other role are parsed locally without a recognition call.
var headerRoles = map[string]model.FieldRole{
	"name": model.RoleName, "nombre": model.RoleName, "producto": model.RoleName,
	"product": model.RoleName, "item": model.RoleName, "titulo": model.RoleName,
	"título": model.RoleName, "articulo": model.RoleName, "artículo": model.RoleName,

	"price": model.RolePrice, "precio": model.RolePrice, "costo": model.RolePrice,
	"cost": model.RolePrice, "precio unitario": model.RolePrice,

	"sku": model.RoleSKU, "codigo": model.RoleSKU, "código": model.RoleSKU,
	"clave": model.RoleSKU, "code": model.RoleSKU, "upc": model.RoleSKU,
	"barcode": model.RoleSKU,

	"brand": model.RoleBrand, "marca": model.RoleBrand,

	"stock": model.RoleStock, "existencia": model.RoleStock,
	"existencias": model.RoleStock, "inventario": model.RoleStock,
	"qty": model.RoleStock, "cantidad": model.RoleStock,

	"category": model.RoleCategory, "categoria": model.RoleCategory,
	"categoría": model.RoleCategory,

	"description": model.RoleDescription, "descripcion": model.RoleDescription,
	"descripción": model.RoleDescription,

	"image": model.RoleImage, "imagen": model.RoleImage, "foto": model.RoleImage,
}

// parseTableRegion parses a markdown table region into per-row field maps
// when its header maps onto known roles. Returns false when the header is
// not recognizable; the region then goes through the content pass instead.
func parseTableRegion(r Region) ([]map[string]string, bool) {
	if r.Hint != "table" {
		return nil, false
	}

	lines := strings.Split(r.Content, "\n")
	if len(lines) < 3 {
		return nil, false
	}

	header := splitTableRow(lines[0])
	roleByCol := make(map[int]model.FieldRole)
	for i, h := range header {
		if role, ok := headerRoles[strings.ToLower(strings.TrimSpace(h))]; ok {
			roleByCol[i] = role
		}
	}

	hasName := false
	for _, role := range roleByCol {
		if role == model.RoleName {
			hasName = true
		}
	}
	if !hasName || len(roleByCol) < 2 {
		return nil, false
	}

	var rows []map[string]string
	for _, line := range lines[1:] {
		cells := splitTableRow(line)
		if isSeparatorRow(cells) {
			continue
		}
		fields := make(map[string]string, len(roleByCol))
		for i, role := range roleByCol {
			if i < len(cells) {
				fields[string(role)] = strings.TrimSpace(cells[i])
			}
		}
		rows = append(rows, fields)
	}
	return rows, true
}

func splitTableRow(line string) []string {
	trimmed := strings.Trim(strings.TrimSpace(line), "|")
	return strings.Split(trimmed, "|")
}

func isSeparatorRow(cells []string) bool {
	for _, c := range cells {
		if strings.Trim(strings.TrimSpace(c), ":-") != "" {
			return false
		}
	}
	return true
}
