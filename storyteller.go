package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const narratorSystemPrompt = `You voice a villager in a medieval werewolf game. Speak in character, one or two short sentences, as if talking to the other villagers in the square. Never reveal your role outright and never mention being an AI.`

// NarrativeRequest describes the line an AI seat should say.
type NarrativeRequest struct {
	Speaker string
	Role    Role
	Day     int
	History []string
}

// NarrativeAgent produces in-character text for AI seats. It only supplies
// chat content; game decisions never depend on it.
type NarrativeAgent interface {
	RequestLine(ctx context.Context, req NarrativeRequest) (string, error)
}

var errEmptyLine = errors.New("narrative agent returned an empty line")

// fallbackLines are used when no agent is configured or it fails.
var fallbackLines = []string{
	"I did not sleep well last night. Something is wrong in this village.",
	"Let us not be hasty. Who has been too quiet today?",
	"I have my suspicions, but I would like to hear from the others first.",
	"Whoever it is, they are sitting among us right now.",
	"I trust no one until the wolves are found.",
	"Speak up, all of you. Silence helps only the wolves.",
}

// requestNarrativeLine asks agent for a line within timeout and falls back
// to a canned line on any failure.
func requestNarrativeLine(ctx context.Context, agent NarrativeAgent, timeout time.Duration, req NarrativeRequest, rng *rand.Rand) string {
	fallback := fallbackLines[rng.IntN(len(fallbackLines))]
	if agent == nil {
		return fallback
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	line, err := agent.RequestLine(ctx, req)
	if err == nil {
		line = strings.TrimSpace(line)
		if line == "" {
			err = errEmptyLine
		}
	}
	if err != nil {
		log.Warn().Err(err).Str("speaker", req.Speaker).Dur("timeout", timeout).Msg("narrative agent failed, using fallback line")
		return fallback
	}
	if len([]rune(line)) > maxChatRunes {
		line = string([]rune(line)[:maxChatRunes])
	}
	return line
}

type llmNarrator struct {
	llm          llms.Model
	systemPrompt string
	callOpts     []llms.CallOption
}

func (n *llmNarrator) RequestLine(ctx context.Context, req NarrativeRequest) (string, error) {
	secret := "You are an ordinary villager."
	if req.Role.Team() == TeamWerewolves {
		secret = "You secretly side with the werewolves, so deflect suspicion away from them."
	}
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, n.systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman,
			fmt.Sprintf("You are %s. It is day %d. %s\n\nRecent talk in the village:\n%s\n\nWhat do you say?",
				req.Speaker, req.Day, secret, strings.Join(req.History, "\n"))),
	}

	resp, err := n.llm.GenerateContent(ctx, messages, n.callOpts...)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errEmptyLine
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

// narratorMaxTokens caps a generated line; anything past maxChatRunes is
// cut anyway.
const narratorMaxTokens = 160

var thinkingModes = map[string]llms.ThinkingMode{
	"none":   llms.ThinkingModeNone,
	"low":    llms.ThinkingModeLow,
	"medium": llms.ThinkingModeMedium,
	"high":   llms.ThinkingModeHigh,
	"auto":   llms.ThinkingModeAuto,
}

// buildCallOpts turns the storyteller_* settings into call options. Every
// call is capped to one short chat line; temperature is clamped to [0, 1].
func buildCallOpts(cfg AppConfig) []llms.CallOption {
	opts := []llms.CallOption{llms.WithMaxTokens(narratorMaxTokens)}

	if v := cfg.StorytellerTemperature; v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			log.Warn().Err(err).Str("value", v).Msg("narrator: ignoring temperature")
		} else {
			opts = append(opts, llms.WithTemperature(min(max(f, 0), 1)))
		}
	}

	if v := cfg.StorytellerThinking; v != "" {
		if mode, ok := thinkingModes[strings.ToLower(v)]; ok {
			opts = append(opts, llms.WithThinkingMode(mode))
		} else {
			log.Warn().Str("value", v).Msg("narrator: ignoring thinking mode")
		}
	}
	return opts
}

// initNarrator builds the narrative agent from config. It returns nil when
// no provider is configured or the provider cannot be set up; AI seats then
// speak canned lines.
func initNarrator(cfg AppConfig) NarrativeAgent {
	provider := cfg.StorytellerProvider
	model := cfg.StorytellerModel

	var (
		llm llms.Model
		err error
	)
	switch provider {
	case "ollama":
		llm, err = ollama.New(ollama.WithModel(model), ollama.WithServerURL(cfg.StorytellerOllamaURL))
	case "openai":
		llm, err = openai.New(openai.WithModel(model))
	case "claude":
		llm, err = anthropic.New(anthropic.WithModel(model))
	case "gemini":
		llm, err = googleai.New(context.Background(), googleai.WithDefaultModel(model))
	case "groq":
		llm, err = openai.New(
			openai.WithModel(model),
			openai.WithBaseURL("https://api.groq.com/openai/v1"),
			openai.WithToken(cfg.GroqAPIKey),
		)
	case "openai-compatible":
		if cfg.StorytellerURL == "" {
			log.Error().Msg("narrator: storyteller_url is required for openai-compatible provider")
			return nil
		}
		opts := []openai.Option{
			openai.WithModel(model),
			openai.WithBaseURL(cfg.StorytellerURL),
		}
		if cfg.StorytellerAPIKey != "" {
			opts = append(opts, openai.WithToken(cfg.StorytellerAPIKey))
		}
		llm, err = openai.New(opts...)
	case "":
		log.Info().Msg("narrator: disabled (set storyteller_provider to enable)")
		return nil
	default:
		log.Error().Str("provider", provider).Msg("narrator: unknown provider")
		return nil
	}
	if err != nil {
		log.Error().Err(err).Str("provider", provider).Str("model", model).Msg("narrator: failed to init provider")
		return nil
	}

	log.Info().Str("provider", provider).Str("model", model).Msg("narrator: enabled")
	return &llmNarrator{llm: llm, systemPrompt: narratorSystemPrompt, callOpts: buildCallOpts(cfg)}
}
