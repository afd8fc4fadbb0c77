package library

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/lumenforge/contentbase/pkg/objstore"
)

func newStore(t *testing.T) objstore.Store {
	t.Helper()
	store, err := objstore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return store
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	doc, err := Load(context.Background(), newStore(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Settings != (Settings{
		Title:           "Untitled",
		AppearanceTheme: ThemeLight,
		ExplorerLayout:  LayoutList,
		Models:          defaultModels(),
	}) {
		t.Fatalf("Load on a missing file = %+v, want Default()", doc.Settings)
	}
}

func TestLoadMalformedJSONFallsBackToDefaults(t *testing.T) {
	store := newStore(t)
	if err := store.Write(context.Background(), SettingsFileName, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	doc, err := Load(context.Background(), store)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Settings.Title != "Untitled" {
		t.Fatalf("Title = %q, want Untitled", doc.Settings.Title)
	}
}

func TestLoadCreateSeedsOnlyTitle(t *testing.T) {
	store := newStore(t)
	if err := Create(context.Background(), store, "My Library"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	doc, err := Load(context.Background(), store)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Settings.Title != "My Library" {
		t.Fatalf("Title = %q, want %q", doc.Settings.Title, "My Library")
	}
	if doc.Settings.AppearanceTheme != ThemeLight {
		t.Fatalf("AppearanceTheme = %q, want default %q", doc.Settings.AppearanceTheme, ThemeLight)
	}
	if doc.Settings.Models.AudioTranscript != "whisper-small" {
		t.Fatalf("AudioTranscript = %q, want default", doc.Settings.Models.AudioTranscript)
	}
}

func TestLoadInvalidThemeRevertsToDefaultWithoutDroppingOtherFields(t *testing.T) {
	store := newStore(t)
	raw := `{"title":"Garage","appearanceTheme":"purple","explorerLayout":"grid"}`
	if err := store.Write(context.Background(), SettingsFileName, []byte(raw)); err != nil {
		t.Fatal(err)
	}
	doc, err := Load(context.Background(), store)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Settings.Title != "Garage" {
		t.Fatalf("Title = %q, want Garage", doc.Settings.Title)
	}
	if doc.Settings.AppearanceTheme != ThemeLight {
		t.Fatalf("AppearanceTheme = %q, want default light for an unrecognized value", doc.Settings.AppearanceTheme)
	}
	if doc.Settings.ExplorerLayout != LayoutGrid {
		t.Fatalf("ExplorerLayout = %q, want grid", doc.Settings.ExplorerLayout)
	}
}

func TestLoadPartialModelsBlockFillsRemainingDefaults(t *testing.T) {
	store := newStore(t)
	raw := `{"models":{"llm":"custom-llm"}}`
	if err := store.Write(context.Background(), SettingsFileName, []byte(raw)); err != nil {
		t.Fatal(err)
	}
	doc, err := Load(context.Background(), store)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Settings.Models.LLM != "custom-llm" {
		t.Fatalf("Models.LLM = %q, want custom-llm", doc.Settings.Models.LLM)
	}
	if doc.Settings.Models.TextEmbedding != "clip-multilingual-v1" {
		t.Fatalf("Models.TextEmbedding = %q, want default", doc.Settings.Models.TextEmbedding)
	}
}

func TestUnknownFieldsSurviveSaveRoundTrip(t *testing.T) {
	store := newStore(t)
	raw := `{"title":"Keep Me","futureFeatureFlag":true,"nested":{"a":1}}`
	if err := store.Write(context.Background(), SettingsFileName, []byte(raw)); err != nil {
		t.Fatal(err)
	}

	doc, err := Load(context.Background(), store)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	doc.Settings.ExplorerLayout = LayoutMedia
	if err := Save(context.Background(), store, doc); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := store.Read(context.Background(), SettingsFileName)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out["futureFeatureFlag"] != true {
		t.Fatalf("futureFeatureFlag dropped across save, got %+v", out)
	}
	nested, ok := out["nested"].(map[string]any)
	if !ok || nested["a"] != float64(1) {
		t.Fatalf("nested unknown field dropped across save, got %+v", out)
	}
	if out["explorerLayout"] != "media" {
		t.Fatalf("explorerLayout = %v, want media", out["explorerLayout"])
	}
}

func TestSaveNilS3ConfigWritesExplicitNull(t *testing.T) {
	store := newStore(t)
	doc := Document{Settings: Default()}
	if err := Save(context.Background(), store, doc); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := store.Read(context.Background(), SettingsFileName)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if v, ok := out["s3Config"]; !ok || v != nil {
		t.Fatalf("s3Config = %v, want explicit null", v)
	}
}

func TestLoadRoundTripsS3Config(t *testing.T) {
	store := newStore(t)
	raw := `{"s3Config":{"endpoint":"s3.example.com","accessKey":"ak","secretKey":"sk","bucket":"b","useSSL":true,"prefix":"lib1"}}`
	if err := store.Write(context.Background(), SettingsFileName, []byte(raw)); err != nil {
		t.Fatal(err)
	}
	doc, err := Load(context.Background(), store)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Settings.S3Config == nil {
		t.Fatal("S3Config = nil, want decoded config")
	}
	if doc.Settings.S3Config.Bucket != "b" || doc.Settings.S3Config.Endpoint != "s3.example.com" {
		t.Fatalf("S3Config = %+v, want bucket=b endpoint=s3.example.com", doc.Settings.S3Config)
	}
}
