package fields

import "sync"

// Shared pattern fragments. Labels are case-insensitive; captured values keep
// their own case rules so that capitalized names are not confused with labels.
const (
	gap       = `[ \t]*[:#\-]?[ \t]*`
	dmy       = `\d{1,2}[/-]\d{1,2}[/-]\d{2,4}`
	ymd       = `\d{4}[/-]\d{1,2}[/-]\d{1,2}`
	plate     = `[A-Z]{2,3}[-\s]?\d{3,4}`
	personCap = `[A-Z][a-z]+[ \t]+[A-Z][a-z]+(?:[ \t]+[A-Z][a-z]+)?`
	placeCap  = `[A-Z][a-zA-Z.]+(?: [A-Z][a-zA-Z.]+){0,4}`
	signoff   = `[A-Z][a-z]*\.?[ \t]+[A-Z][a-z]+`
	number    = `\d+(?:\.\d+)?`
)

var (
	defaultCatalog     *Catalog
	defaultCatalogOnce sync.Once
)

// DefaultCatalog returns the built-in delivery-ticket catalog. The catalog is
// shared and read-only.
func DefaultCatalog() *Catalog {
	defaultCatalogOnce.Do(func() {
		defaultCatalog = NewCatalog(DefaultSpecs()...)
	})
	return defaultCatalog
}

// DefaultSpecs builds fresh copies of the built-in field specs, in canonical order.
func DefaultSpecs() []*Spec {
	return []*Spec{
		MustSpec(TicketNumber, []string{
			`(?i)\b(?:slip|ticket|ref)\.?[ \t]*(?:no\.?|number|num|#)?` + gap + `([A-Z0-9][A-Z0-9-]{2,19})\b`,
			`(?i)\b(T[KT]?[-\s]?\d{4,8}(?:-\d{1,6})?)\b`,
			`\b([A-Z]{2,3}[-\s]?\d{4,8})\b`,
			`\b(\d{4})\b`,
		}, []string{"ticket", "ref", "number", "no", "slip"}, ValidTicketNumber, NormalizeTicketNumber),

		MustSpec(Date, []string{
			`(?i)\b(?:date|issued?)\b[^\d\n]{0,20}(` + dmy + `)\b`,
			`(?i)\b(?:date|issued?)\b[^\d\n]{0,20}(` + ymd + `)\b`,
			`\b(` + dmy + `)\b`,
			`\b(` + ymd + `)\b`,
		}, []string{"date", "issued"}, ValidDate, NormalizeDate),

		MustSpec(TruckRegistration, []string{
			`(?i:\b(?:truck|vehicle|reg|registration)\b)[^\n:]{0,15}?` + gap + `((?i:` + plate + `))\b`,
			`\b(` + plate + `)\b`,
			`(?i:\b(?:plate|license|licence)\b)[^\n:]{0,15}?` + gap + `((?i:[A-Z0-9-]{3,10}))\b`,
		}, []string{"truck", "vehicle", "reg", "registration"}, ValidTruckRegistration, NormalizeTruckRegistration),

		MustSpec(DriverName, []string{
			`(?i:\b(?:driver|operator)\b)[^\n:]{0,15}?` + gap + `(` + personCap + `)`,
			`(?i:\bname\b)[^\n:]{0,10}?` + gap + `(` + personCap + `)`,
		}, []string{"driver", "operator", "name"}, ValidPersonName, CollapseSpace),

		MustSpec(Commodity, []string{
			`(?i)\b(?:commodity|material|product)\b[^\n]{0,15}?\b(bauxite|alumina|coal|limestone)\b`,
			`(?i)\b(bauxite|alumina|coal|limestone)\b`,
		}, []string{"commodity", "material", "product"}, ValidCommodity, NormalizeCommodity),

		MustSpec(Weight, []string{
			`(?i)\b(?:net[ \t]+weight|weight|gross|tonnage|tons?)\b[^\d\n]{0,15}(` + number + `)`,
			`(?i)(` + number + `)[ \t]*(?:tons?|t)\b`,
			`(?i)\bweight\b[^\d\n]{0,15}(` + number + `)`,
		}, []string{"weight", "net", "gross", "tons"}, ValidWeight, NormalizeWeight),

		MustSpec(LoadingLocation, []string{
			`(?i:\b(?:from|origin|loading(?:[ \t]+(?:point|site))?|pickup(?:[ \t]+point)?)\b)` + gap + `(` + placeCap + `)`,
			`(?i:\b(?:mine|site)\b)` + gap + `(` + placeCap + `)`,
			`(?i)\b(st\.?\s+jago(?:\s+mine)?)\b`,
		}, []string{"from", "origin", "loading", "pickup"}, ValidPlace, CollapseSpace),

		MustSpec(Destination, []string{
			`(?i:\b(?:deliver(?:y)?[ \t]+(?:to|point)|destination|drop(?:[ \t]+off)?|to)\b)` + gap + `(` + placeCap + `)`,
			`(?i)\b(jamalco|port\s+esquivel|kingston\s+port)\b`,
			`(?i:\b(?:port|terminal)\b)` + gap + `(` + placeCap + `)`,
		}, []string{"to", "destination", "delivery", "drop"}, ValidPlace, CollapseSpace),

		MustSpec(Dispatcher, []string{
			`(?i:\b(?:dispatcher|coordinator|supervisor|dispatched[ \t]+by)\b)` + gap + `(` + signoff + `)`,
			`(?i:\b(?:authori[sz]ed[ \t]+by|approved[ \t]+by|signature)\b)` + gap + `(` + signoff + `)`,
			`(?i)\b((?:a\.?\s*)?bailey)\b`,
		}, []string{"dispatcher", "coordinator", "supervisor", "authorized"}, ValidDispatcher, CollapseSpace),
	}
}
