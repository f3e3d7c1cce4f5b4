package model

// Scene is the closed set of classified screen states. Exactly one
// value is returned per frame by the Scene Classifier.
type Scene string

const (
	SceneMainCity      Scene = "main_city"
	SceneWorldMap      Scene = "world_map"
	SceneHero          Scene = "hero"
	SceneHeroRecruit   Scene = "hero_recruit"
	SceneHeroUpgrade   Scene = "hero_upgrade"
	SceneBattle        Scene = "battle"
	ScenePopup         Scene = "popup"
	SceneExitDialog    Scene = "exit_dialog"
	SceneLoading       Scene = "loading"
	SceneStoryDialogue Scene = "story_dialogue"
	SceneUnknown       Scene = "unknown"
)

// QuestBarInfo mirrors the detected quest-bar strip state.
type QuestBarInfo struct {
	Visible             bool
	ScrollIconCenterX   int
	ScrollIconCenterY   int
	ScrollIconBbox      Bbox
	HasRedBadge         bool
	CurrentQuestText    string
	CurrentQuestBbox    Bbox
	HasGreenCheck       bool
	HasTutorialFinger   bool
	TutorialFingerCenterX int
	TutorialFingerCenterY int
}
