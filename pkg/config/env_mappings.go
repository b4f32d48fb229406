package config

import (
	"reflect"
	"strings"
	"sync"
)

// EnvMapping ties a configuration path to its environment variable and CLI flag.
type EnvMapping struct {
	EnvVar     string
	Flag       string
	ConfigPath string
}

// writerMappings covers the writer section, which is a loose map and carries no struct tags.
var writerMappings = []EnvMapping{
	{EnvVar: "TPLWRITER_VIEW", Flag: "view", ConfigPath: "writer.view"},
	{EnvVar: "TPLWRITER_VIEWS_DIR", Flag: "views-dir", ConfigPath: "writer.viewsDir"},
	{EnvVar: "TPLWRITER_OUT_DIR", Flag: "out-dir", ConfigPath: "writer.outDir"},
	{EnvVar: "TPLWRITER_OUT_FILE", Flag: "out-file", ConfigPath: "writer.outFile"},
	{EnvVar: "TPLWRITER_GLOBALS", Flag: "globals", ConfigPath: "writer.globals"},
	{EnvVar: "TPLWRITER_FUNCTIONS", Flag: "functions", ConfigPath: "writer.functions"},
	{EnvVar: "TPLWRITER_FILTERS", Flag: "filters", ConfigPath: "writer.filters"},
	{EnvVar: "TPLWRITER_ADVANCED", Flag: "advanced", ConfigPath: "writer.advanced"},
	{EnvVar: "TPLWRITER_MARKDOWN", Flag: "markdown", ConfigPath: "writer.markdown"},
}

var (
	cachedMappings []EnvMapping
	mappingsOnce   sync.Once
)

// GenerateEnvMappings generates mappings from config struct tags plus the writer keys.
func GenerateEnvMappings() []EnvMapping {
	mappingsOnce.Do(func() {
		cfg := &Config{}
		cachedMappings = extractMappings(reflect.TypeOf(cfg).Elem(), "")
		cachedMappings = append(cachedMappings, writerMappings...)
	})
	return cachedMappings
}

// extractMappings recursively extracts env and flag mappings from struct fields
func extractMappings(t reflect.Type, prefix string) []EnvMapping {
	var mappings []EnvMapping
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		koanfTag := tagName(field.Tag.Get("koanf"))
		if koanfTag == "" || koanfTag == "-" {
			continue
		}
		configPath := koanfTag
		if prefix != "" {
			configPath = prefix + "." + koanfTag
		}
		envTag := field.Tag.Get("env")
		flagTag := field.Tag.Get("flag")
		if envTag != "" || flagTag != "" {
			mappings = append(mappings, EnvMapping{
				EnvVar:     envTag,
				Flag:       flagTag,
				ConfigPath: configPath,
			})
		}
		if field.Type.Kind() == reflect.Struct {
			if field.Type.PkgPath() == "time" {
				continue
			}
			mappings = append(mappings, extractMappings(field.Type, configPath)...)
		}
	}
	return mappings
}

func tagName(tag string) string {
	name, _, _ := strings.Cut(tag, ",")
	return name
}

// GenerateEnvToConfigMap generates a map from env var to config path
func GenerateEnvToConfigMap() map[string]string {
	mappings := GenerateEnvMappings()
	result := make(map[string]string, len(mappings))
	for _, m := range mappings {
		if m.EnvVar != "" {
			result[m.EnvVar] = m.ConfigPath
		}
	}
	return result
}

// GenerateFlagToConfigMap generates a map from CLI flag name to config path
func GenerateFlagToConfigMap() map[string]string {
	mappings := GenerateEnvMappings()
	result := make(map[string]string, len(mappings))
	for _, m := range mappings {
		if m.Flag != "" {
			result[m.Flag] = m.ConfigPath
		}
	}
	return result
}

// GetEnvVarForConfigPath returns the environment variable for a given config path
func GetEnvVarForConfigPath(configPath string) string {
	for _, m := range GenerateEnvMappings() {
		if m.ConfigPath == configPath {
			return m.EnvVar
		}
	}
	return ""
}
