// Package appconfig fetches an AppConfig configuration profile once and
// exposes it as an immutable snapshot that handlers receive at construction.
package appconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/appconfigdata"
	"gopkg.in/yaml.v3"
)

// API is the subset of the AppConfig Data client used to load a profile
type API interface {
	StartConfigurationSession(ctx context.Context, params *appconfigdata.StartConfigurationSessionInput, optFns ...func(*appconfigdata.Options)) (*appconfigdata.StartConfigurationSessionOutput, error)
	GetLatestConfiguration(ctx context.Context, params *appconfigdata.GetLatestConfigurationInput, optFns ...func(*appconfigdata.Options)) (*appconfigdata.GetLatestConfigurationOutput, error)
}

// Identifiers selects the configuration profile to load
type Identifiers struct {
	Application string
	Environment string
	Profile     string
}

// ErrEmptyConfiguration is returned when AppConfig answered with no content
var ErrEmptyConfiguration = errors.New("appconfig returned an empty configuration")

// Snapshot is one version of a configuration profile
type Snapshot struct {
	Profile     string
	ContentType string
	Raw         []byte
	Values      map[string]interface{}
}

// Flag is one entry of a feature flag profile
type Flag struct {
	Name       string                 `json:"name"`
	Enabled    bool                   `json:"enabled"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Load starts a configuration session and fetches the current configuration
func Load(ctx context.Context, api API, ids Identifiers) (*Snapshot, error) {
	session, err := api.StartConfigurationSession(ctx, &appconfigdata.StartConfigurationSessionInput{
		ApplicationIdentifier:          aws.String(ids.Application),
		EnvironmentIdentifier:          aws.String(ids.Environment),
		ConfigurationProfileIdentifier: aws.String(ids.Profile),
	})
	if err != nil {
		return nil, fmt.Errorf("start configuration session: %w", err)
	}

	latest, err := api.GetLatestConfiguration(ctx, &appconfigdata.GetLatestConfigurationInput{
		ConfigurationToken: session.InitialConfigurationToken,
	})
	if err != nil {
		return nil, fmt.Errorf("get latest configuration: %w", err)
	}
	if len(latest.Configuration) == 0 {
		return nil, ErrEmptyConfiguration
	}

	return Parse(ids.Profile, aws.ToString(latest.ContentType), latest.Configuration)
}

// Parse builds a snapshot from raw configuration content. JSON and YAML
// documents are decoded into Values; other content types keep only Raw.
func Parse(profile, contentType string, raw []byte) (*Snapshot, error) {
	snap := &Snapshot{
		Profile:     profile,
		ContentType: contentType,
		Raw:         append([]byte(nil), raw...),
	}

	var err error
	switch {
	case strings.Contains(contentType, "json"):
		err = json.Unmarshal(raw, &snap.Values)
	case strings.Contains(contentType, "yaml"):
		err = yaml.Unmarshal(raw, &snap.Values)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s configuration: %w", contentType, err)
	}
	return snap, nil
}

// Flag looks up a feature flag by name. Flags use the AppConfig feature
// flag shape {"name": {"enabled": bool, ...attributes}}.
func (s *Snapshot) Flag(name string) (Flag, bool) {
	entry, ok := s.Values[name].(map[string]interface{})
	if !ok {
		return Flag{}, false
	}

	flag := Flag{Name: name}
	for k, v := range entry {
		if k == "enabled" {
			flag.Enabled, _ = v.(bool)
			continue
		}
		if flag.Attributes == nil {
			flag.Attributes = make(map[string]interface{})
		}
		flag.Attributes[k] = v
	}
	return flag, true
}

// Flags returns every flag in the snapshot ordered by name
func (s *Snapshot) Flags() []Flag {
	flags := make([]Flag, 0, len(s.Values))
	for name := range s.Values {
		if f, ok := s.Flag(name); ok {
			flags = append(flags, f)
		}
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i].Name < flags[j].Name })
	return flags
}
