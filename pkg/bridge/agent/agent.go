// Package agent defines assistant profiles: the instructions, voice, greeting
// and tool set a bridge session is configured with.
package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/voxbridge/voxbridge/pkg/bridge/realtime"
)

// Profile is everything needed to configure a model session for one call.
// Model overrides the bridge-wide default model for calls using this
// profile; it rides the endpoint dial URL, so empty means the default.
type Profile struct {
	Name            string
	Model           string
	Instructions    string
	Voice           string
	Greeting        string
	Temperature     float64
	MaxOutputTokens int
	Tools           []realtime.Tool
}

// SessionConfig renders the profile as the session object sent to the model.
// Audio formats are fixed to pcm16: the bridge owns the telephony transcode.
func (p Profile) SessionConfig() realtime.Session {
	session := realtime.Session{
		Modalities:        []string{"audio", "text"},
		Instructions:      p.Instructions,
		Voice:             p.Voice,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		InputAudioTranscription: &realtime.Transcription{
			Model: "whisper-1",
		},
		TurnDetection: &realtime.TurnDetection{Type: "server_vad"},
		Tools:         p.Tools,
		Temperature:   p.Temperature,
	}
	if p.MaxOutputTokens > 0 {
		session.MaxResponseOutputTokens = []byte(fmt.Sprintf("%d", p.MaxOutputTokens))
	}
	return session
}

// Factory builds a fresh profile per session so sessions never share state.
type Factory func() Profile

// Registry maps profile names to factories. It is populated at construction
// and safe for concurrent reads afterwards.
type Registry struct {
	factories map[string]Factory
	fallback  string
}

// NewRegistry builds a registry around the given default profile factory.
func NewRegistry(defaultName string, defaultFactory Factory) (*Registry, error) {
	r := &Registry{factories: make(map[string]Factory)}
	if err := r.Register(defaultName, defaultFactory); err != nil {
		return nil, err
	}
	r.fallback = strings.TrimSpace(defaultName)
	return r, nil
}

// Register adds a named factory. Names are unique; a duplicate is a
// configuration bug and reported as an error.
func (r *Registry) Register(name string, factory Factory) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("agent: profile name is empty")
	}
	if factory == nil {
		return fmt.Errorf("agent: profile %q has nil factory", name)
	}
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("agent: profile %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// New builds a profile by name, falling back to the default when name is
// empty. An unknown name is an error rather than a silent fallback.
func (r *Registry) New(name string) (Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = r.fallback
	}
	factory, ok := r.factories[name]
	if !ok {
		return Profile{}, fmt.Errorf("agent: unknown profile %q (have %s)", name, strings.Join(r.Names(), ", "))
	}
	profile := factory()
	if strings.TrimSpace(profile.Name) == "" {
		profile.Name = name
	}
	return profile, nil
}

// Names lists registered profile names in stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default is a general-purpose phone assistant used when no profile is
// configured.
func Default() Profile {
	return Profile{
		Name:  "assistant",
		Voice: "alloy",
		Instructions: "You are a helpful voice assistant answering a phone call. " +
			"Keep replies short and conversational; the caller hears you over a telephone line. " +
			"Speak plainly, avoid lists, and ask one question at a time.",
		Greeting:    "Greet the caller briefly and ask how you can help.",
		Temperature: 0.8,
	}
}
