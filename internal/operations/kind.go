package operations

import contracts "sheetledger/pkg/contracts/operations"

// Kind is the operation carried by an envelope
type Kind int

const (
	KindUnknown Kind = iota
	KindCreateForm
	KindCreateSheetWithData
	KindAddAppSheets
	KindUpdateMonetization
	KindUpdateAppsTop
)

var kindNames = map[Kind]string{
	KindCreateForm:          contracts.OpCreateForm,
	KindCreateSheetWithData: contracts.OpCreateSheetWithData,
	KindAddAppSheets:        contracts.OpAddAppSheets,
	KindUpdateMonetization:  contracts.OpUpdateMonetization,
	KindUpdateAppsTop:       contracts.OpUpdateAppsTop,
}

// ParseKind maps a wire name to a Kind; unrecognised names yield KindUnknown
func ParseKind(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return KindUnknown
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// NeedsUser reports whether the kind acts on behalf of a user
func (k Kind) NeedsUser() bool {
	switch k {
	case KindCreateForm, KindCreateSheetWithData, KindAddAppSheets, KindUpdateMonetization:
		return true
	}
	return false
}
