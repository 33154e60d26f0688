package models

// TaskKind identifies what a job does. The set is closed; unknown kinds
// never produce work.
type TaskKind string

const (
	KindScan TaskKind = "scan"
	KindName TaskKind = "name"

	KindPortrait  TaskKind = "portrait"
	KindFullBody  TaskKind = "full_body"
	KindStyleCard TaskKind = "style_card"

	KindGroupPortrait TaskKind = "group_portrait"
	KindGroupCandid   TaskKind = "group_candid"

	KindSceneBackdrop TaskKind = "scene_backdrop"
	KindScenePoster   TaskKind = "scene_poster"
)

// TaskCategory groups kinds by how the fan-out expander treats them.
type TaskCategory string

const (
	CategoryAnalysis TaskCategory = "analysis"
	CategoryPerson   TaskCategory = "person"
	CategoryGroup    TaskCategory = "group"
	CategoryScene    TaskCategory = "scene"
)

// Lane is a scheduling partition with its own concurrency ceiling.
type Lane string

const (
	LaneAnalysis   Lane = "analysis"
	LaneGeneration Lane = "generation"
)

// TaskDef describes one kind in the catalog.
type TaskDef struct {
	Kind     TaskKind
	Category TaskCategory
	Label    string
}

// Catalog is the definition table for every known task kind.
var Catalog = map[TaskKind]TaskDef{
	KindScan: {Kind: KindScan, Category: CategoryAnalysis, Label: "detect subjects"},
	KindName: {Kind: KindName, Category: CategoryAnalysis, Label: "suggest a name"},

	KindPortrait:  {Kind: KindPortrait, Category: CategoryPerson, Label: "studio portrait"},
	KindFullBody:  {Kind: KindFullBody, Category: CategoryPerson, Label: "full body shot"},
	KindStyleCard: {Kind: KindStyleCard, Category: CategoryPerson, Label: "stylized card"},

	KindGroupPortrait: {Kind: KindGroupPortrait, Category: CategoryGroup, Label: "group portrait"},
	KindGroupCandid:   {Kind: KindGroupCandid, Category: CategoryGroup, Label: "group candid"},

	KindSceneBackdrop: {Kind: KindSceneBackdrop, Category: CategoryScene, Label: "scene backdrop"},
	KindScenePoster:   {Kind: KindScenePoster, Category: CategoryScene, Label: "scene poster"},
}

// LaneFor maps a kind to its scheduling lane. Scan and name run in the
// analysis lane, everything else is generation work.
func LaneFor(kind TaskKind) Lane {
	if def, ok := Catalog[kind]; ok && def.Category == CategoryAnalysis {
		return LaneAnalysis
	}
	return LaneGeneration
}

// KindsByCategory lists catalog kinds in a stable order for the given
// category. Map iteration order is not stable, so the expander relies on
// this instead of ranging over Catalog directly.
func KindsByCategory(cat TaskCategory) []TaskKind {
	var out []TaskKind
	for _, k := range kindOrder {
		if Catalog[k].Category == cat {
			out = append(out, k)
		}
	}
	return out
}

var kindOrder = []TaskKind{
	KindScan, KindName,
	KindPortrait, KindFullBody, KindStyleCard,
	KindGroupPortrait, KindGroupCandid,
	KindSceneBackdrop, KindScenePoster,
}
