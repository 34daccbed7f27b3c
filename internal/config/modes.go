package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Water plonk modes
const (
	WaterPlonkNormal    = "normal"
	WaterPlonkIllegal   = "illegal"
	WaterPlonkMandatory = "mandatory"
)

// Countdown modes
const (
	CountdownNormal         = "normal"
	CountdownDown           = "countdown"
	CountdownUp             = "countup"
	CountdownAlphabeticalAZ = "alphabeticalAZ"
	CountdownAlphabeticalZA = "alphabeticalZA"
	CountdownABC            = "abc"
)

// Modes is the set of game mode toggles, snapshotted when a session starts
type Modes struct {
	IsMultiGuess             bool   `json:"isMultiGuess"`
	IsBRMode                 bool   `json:"isBRMode"`
	BattleRoyaleReguessLimit int    `json:"battleRoyaleReguessLimit"`
	InvertScoring            bool   `json:"invertScoring"`
	ExclusiveMode            bool   `json:"exclusiveMode"`
	WrongCountryOnly         bool   `json:"isClosestInWrongCountryModeActivated"`
	WaterPlonkMode           string `json:"waterPlonkMode"`
	GameOfChicken            bool   `json:"isGameOfChickenModeActivated"`
	ChickenSurvivesWith5k    bool   `json:"chickenModeSurvivesWith5k"`
	Chicken5kGivesPoints     bool   `json:"chickenMode5kGivesPoints"`
	IsDartsMode              bool   `json:"isDartsMode"`
	IsDartsModeBust          bool   `json:"isDartsModeBust"`
	DartsTargetScore         int    `json:"dartsTargetScore"`
	CountdownMode            string `json:"countdownMode"`
	ABCModeLetters           string `json:"ABCModeLetters"`
	WrongCountryPenalty      int    `json:"modifierMinusPointsIfWrongCountry"`

	IsGiftingPointsRound bool   `json:"isGiftingPointsRound"`
	RoundPointGift       int    `json:"roundPointGift"`
	IsGiftingPointsGame  bool   `json:"isGiftingPointsGame"`
	GamePointGift        int    `json:"gamePointGift"`
	PointGiftCommand     string `json:"pointGiftCommand"`

	BannedUsers []string `json:"bannedUsers,omitempty"`
}

// DefaultModes returns every mode switched off
func DefaultModes() Modes {
	return Modes{
		BattleRoyaleReguessLimit: 1,
		WaterPlonkMode:           WaterPlonkNormal,
		DartsTargetScore:         25000,
		CountdownMode:            CountdownNormal,
	}
}

func registerModeFlags(fs *pflag.FlagSet) {
	d := DefaultModes()
	fs.Bool("multi-guess", d.IsMultiGuess, "later guesses replace earlier ones within a round")
	fs.Bool("br-mode", d.IsBRMode, "battle royale: limited re-guesses per round")
	fs.Int("br-reguess-limit", d.BattleRoyaleReguessLimit, "guesses allowed per round in battle royale")
	fs.Bool("invert-scoring", d.InvertScoring, "farthest guess scores highest")
	fs.Bool("exclusive-mode", d.ExclusiveMode, "only the best guess per country scores")
	fs.Bool("wrong-country-only", d.WrongCountryOnly, "guesses in the correct country score 0")
	fs.String("water-plonk-mode", d.WaterPlonkMode, "normal, illegal or mandatory")
	fs.Bool("chicken-mode", d.GameOfChicken, "previous round winner scores 0")
	fs.Bool("chicken-survives-5k", d.ChickenSurvivesWith5k, "a 5k win does not trigger the chicken")
	fs.Bool("chicken-5k-gives-points", d.Chicken5kGivesPoints, "a chickened 5k still scores")
	fs.Bool("darts-mode", d.IsDartsMode, "rank by distance to a target total")
	fs.Bool("darts-bust", d.IsDartsModeBust, "totals above the darts target bust")
	fs.Int("darts-target", d.DartsTargetScore, "darts target total")
	fs.String("countdown-mode", d.CountdownMode, "normal, countdown, countup, alphabeticalAZ, alphabeticalZA or abc")
	fs.String("abc-letters", d.ABCModeLetters, "letters for abc countdown mode")
	fs.Int("wrong-country-penalty", d.WrongCountryPenalty, "points subtracted for a wrong country")
	fs.Bool("gift-round", d.IsGiftingPointsRound, "announce a point gift to each round winner")
	fs.Int("gift-round-amount", d.RoundPointGift, "round winner gift")
	fs.Bool("gift-game", d.IsGiftingPointsGame, "announce a point gift to the game winner")
	fs.Int("gift-game-amount", d.GamePointGift, "game winner gift")
	fs.String("gift-command", d.PointGiftCommand, "chat command used to gift points")
	fs.StringSlice("banned-users", nil, "usernames whose guesses are ignored")
}

func loadModes(v *viper.Viper) Modes {
	return Modes{
		IsMultiGuess:             v.GetBool("multi-guess"),
		IsBRMode:                 v.GetBool("br-mode"),
		BattleRoyaleReguessLimit: v.GetInt("br-reguess-limit"),
		InvertScoring:            v.GetBool("invert-scoring"),
		ExclusiveMode:            v.GetBool("exclusive-mode"),
		WrongCountryOnly:         v.GetBool("wrong-country-only"),
		WaterPlonkMode:           v.GetString("water-plonk-mode"),
		GameOfChicken:            v.GetBool("chicken-mode"),
		ChickenSurvivesWith5k:    v.GetBool("chicken-survives-5k"),
		Chicken5kGivesPoints:     v.GetBool("chicken-5k-gives-points"),
		IsDartsMode:              v.GetBool("darts-mode"),
		IsDartsModeBust:          v.GetBool("darts-bust"),
		DartsTargetScore:         v.GetInt("darts-target"),
		CountdownMode:            v.GetString("countdown-mode"),
		ABCModeLetters:           v.GetString("abc-letters"),
		WrongCountryPenalty:      v.GetInt("wrong-country-penalty"),
		IsGiftingPointsRound:     v.GetBool("gift-round"),
		RoundPointGift:           v.GetInt("gift-round-amount"),
		IsGiftingPointsGame:      v.GetBool("gift-game"),
		GamePointGift:            v.GetInt("gift-game-amount"),
		PointGiftCommand:         v.GetString("gift-command"),
		BannedUsers:              v.GetStringSlice("banned-users"),
	}
}

// Validate rejects unknown enum values and impossible limits
func (m Modes) Validate() error {
	switch m.WaterPlonkMode {
	case WaterPlonkNormal, WaterPlonkIllegal, WaterPlonkMandatory:
	default:
		return fmt.Errorf("unknown water plonk mode %q", m.WaterPlonkMode)
	}
	switch m.CountdownMode {
	case CountdownNormal, CountdownDown, CountdownUp, CountdownAlphabeticalAZ, CountdownAlphabeticalZA:
	case CountdownABC:
		if strings.TrimSpace(m.ABCModeLetters) == "" {
			return errors.New("abc countdown mode needs letters")
		}
	default:
		return fmt.Errorf("unknown countdown mode %q", m.CountdownMode)
	}
	if m.IsBRMode && m.BattleRoyaleReguessLimit < 1 {
		return fmt.Errorf("battle royale reguess limit must be at least 1, got %d", m.BattleRoyaleReguessLimit)
	}
	if m.WrongCountryPenalty < 0 {
		return fmt.Errorf("wrong country penalty must not be negative, got %d", m.WrongCountryPenalty)
	}
	return nil
}

// IsBanned reports whether username is on the ban list, ignoring case
func (m Modes) IsBanned(username string) bool {
	for _, banned := range m.BannedUsers {
		if strings.EqualFold(banned, username) {
			return true
		}
	}
	return false
}

// Help lists a short label for every active mode
func (m Modes) Help() []string {
	var parts []string
	if m.InvertScoring {
		parts = append(parts, "Inverted scoring")
	}
	if m.ExclusiveMode {
		parts = append(parts, "Exclusive mode")
	}
	if m.WrongCountryOnly {
		parts = append(parts, "Wrong country only")
	}
	if m.GameOfChicken {
		parts = append(parts, "Game of chicken 🐔")
		if m.Chicken5kGivesPoints {
			parts = append(parts, "Chicken can 5k")
		}
		if m.ChickenSurvivesWith5k {
			parts = append(parts, "5k avoids chicken")
		}
	}
	if m.IsBRMode {
		parts = append(parts, fmt.Sprintf("Battle Royale %d guesses", m.BattleRoyaleReguessLimit))
	}
	if m.IsDartsMode {
		bust := ""
		if m.IsDartsModeBust {
			bust = "≤"
		}
		parts = append(parts, fmt.Sprintf("Darts 🎯(%s%d)", bust, m.DartsTargetScore))
	}
	switch m.WaterPlonkMode {
	case WaterPlonkIllegal:
		parts = append(parts, "🌊❌")
	case WaterPlonkMandatory:
		parts = append(parts, "🌊❗")
	}
	switch m.CountdownMode {
	case CountdownDown:
		parts = append(parts, "Countdown")
	case CountdownUp:
		parts = append(parts, "Countup")
	case CountdownAlphabeticalAZ:
		parts = append(parts, "Alphabetical A=>Z")
	case CountdownAlphabeticalZA:
		parts = append(parts, "Alphabetical Z=>A")
	case CountdownABC:
		parts = append(parts, "ABC-Mode: "+strings.ToUpper(m.ABCModeLetters))
	}
	return parts
}

// Summary joins Help into one line
func (m Modes) Summary() string {
	parts := m.Help()
	if len(parts) == 0 {
		return "No special modes activated"
	}
	return strings.Join(parts, " | ")
}
