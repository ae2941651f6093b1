package protocol

import "encoding/json"

// AssetLike is the engine's partial view of an asset definition or patch.
type AssetLike struct {
	ID            string          `json:"id"`
	Name          string          `json:"name,omitempty"`
	Source        json.RawMessage `json:"source,omitempty"`
	Material      json.RawMessage `json:"material,omitempty"`
	Mesh          json.RawMessage `json:"mesh,omitempty"`
	Texture       json.RawMessage `json:"texture,omitempty"`
	Sound         json.RawMessage `json:"sound,omitempty"`
	AnimationData json.RawMessage `json:"animationData,omitempty"`
	Prefab        json.RawMessage `json:"prefab,omitempty"`
}

// LoadAssets loads a batch of assets into a container. The batch must be
// acknowledged (assets-loaded) before dependent actors are created.
type LoadAssets struct {
	ContainerID  string          `json:"containerId"`
	Source       json.RawMessage `json:"source,omitempty"`
	ColliderType string          `json:"colliderType,omitempty"`
}

func (*LoadAssets) PayloadType() string { return TypeLoadAssets }

// AssetsLoaded is the reply to LoadAssets or CreateAsset.
type AssetsLoaded struct {
	FailureMessage string      `json:"failureMessage,omitempty"`
	Assets         []AssetLike `json:"assets,omitempty"`
}

func (*AssetsLoaded) PayloadType() string { return TypeAssetsLoaded }

// UnloadAssets drops every asset loaded into a container.
type UnloadAssets struct {
	ContainerID string `json:"containerId"`
}

func (*UnloadAssets) PayloadType() string { return TypeUnloadAssets }

// CreateAsset creates a single programmatic asset in a container.
type CreateAsset struct {
	ContainerID string    `json:"containerId"`
	Definition  AssetLike `json:"definition"`
}

func (*CreateAsset) PayloadType() string { return TypeCreateAsset }

// AssetUpdate patches an existing asset.
type AssetUpdate struct {
	Asset AssetLike `json:"asset"`
}

func (*AssetUpdate) PayloadType() string { return TypeAssetUpdate }
