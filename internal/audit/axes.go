package audit

// Axis identifies one of the twelve WCAG 2.1 success-criterion groups the
// system evaluates independently.
type Axis struct {
	Key       string
	Name      string
	Principle string
	// HasLevelA marks groups containing Level A success criteria; a
	// NONE/CRITICAL verdict on such an axis caps the aggregate level.
	HasLevelA bool
}

// WCAG principles used for axis grouping.
const (
	PrinciplePerceivable    = "perceivable"
	PrincipleOperable       = "operable"
	PrincipleUnderstandable = "understandable"
	PrincipleRobust         = "robust"
)

// Axes lists the twelve audited groups in rubric order. New axes are added
// here and in the module registry; the orchestrator never enumerates them
// by hand.
var Axes = []Axis{
	{Key: "1_1_text_alternatives", Name: "1.1 Text Alternatives", Principle: PrinciplePerceivable, HasLevelA: true},
	{Key: "1_2_time_based_media", Name: "1.2 Time-based Media", Principle: PrinciplePerceivable, HasLevelA: true},
	{Key: "1_3_adaptable", Name: "1.3 Adaptable", Principle: PrinciplePerceivable, HasLevelA: true},
	{Key: "1_4_distinguishable", Name: "1.4 Distinguishable", Principle: PrinciplePerceivable, HasLevelA: true},
	{Key: "2_1_keyboard_accessible", Name: "2.1 Keyboard Accessible", Principle: PrincipleOperable, HasLevelA: true},
	{Key: "2_2_enough_time", Name: "2.2 Enough Time", Principle: PrincipleOperable, HasLevelA: true},
	{Key: "2_3_seizures", Name: "2.3 Seizures and Physical Reactions", Principle: PrincipleOperable, HasLevelA: true},
	{Key: "2_4_navigable", Name: "2.4 Navigable", Principle: PrincipleOperable, HasLevelA: true},
	{Key: "3_1_readable", Name: "3.1 Readable", Principle: PrincipleUnderstandable, HasLevelA: true},
	{Key: "3_2_predictable", Name: "3.2 Predictable", Principle: PrincipleUnderstandable, HasLevelA: true},
	{Key: "3_3_input_assistance", Name: "3.3 Input Assistance", Principle: PrincipleUnderstandable, HasLevelA: true},
	{Key: "4_1_compatible", Name: "4.1 Compatible", Principle: PrincipleRobust, HasLevelA: true},
}

// AxisByKey returns the axis definition for a key.
func AxisByKey(key string) (Axis, bool) {
	for _, a := range Axes {
		if a.Key == key {
			return a, true
		}
	}
	return Axis{}, false
}

// AxisKeys returns the keys of all registered axes in rubric order.
func AxisKeys() []string {
	keys := make([]string, len(Axes))
	for i, a := range Axes {
		keys[i] = a.Key
	}
	return keys
}
