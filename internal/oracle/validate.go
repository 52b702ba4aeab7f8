package oracle

import (
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// #region letters
const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Letter is the perspective label for index i: A, B, C...
func Letter(i int) string {
	if i < 0 || i >= len(letters) {
		return strconv.Itoa(i)
	}
	return letters[i : i+1]
}

// #endregion letters

// #region validate
// ValidateChoice normalises a raw choice against the number of perspectives
// on offer. Numeric tokens become letters and out-of-range choices are
// clamped to the last perspective with a warning. Tokens that are not a
// single letter or number, and observation sets of the wrong size, are
// rejected with an OutputFormatError.
func ValidateChoice(raw RawChoice, perspectives int, logger *zap.Logger) (Decision, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if perspectives <= 0 {
		return Decision{}, formatErrorf("no perspectives to choose from")
	}

	idx, err := validateAction(raw.Action, perspectives, logger)
	if err != nil {
		return Decision{}, err
	}

	if len(raw.Observation) != perspectives {
		return Decision{}, formatErrorf("expected %d observations, got %d", perspectives, len(raw.Observation))
	}
	obs := make(map[string]string, len(raw.Observation))
	for k, v := range raw.Observation {
		key := strings.TrimSpace(k)
		if n, err := strconv.Atoi(key); err == nil {
			logger.Warn("numeric observation key converted", zap.String("key", key), zap.String("letter", Letter(n)))
			key = Letter(n)
		}
		obs[key] = v
	}

	return Decision{
		Action:                 idx,
		Score:                  clampScore(raw.Score),
		Thought:                raw.Thought,
		PerspectiveObservation: obs,
	}, nil
}

// validateAction turns a letter or number token into a perspective index.
func validateAction(action string, perspectives int, logger *zap.Logger) (int, error) {
	token := strings.ToUpper(strings.TrimSpace(action))
	if token == "" || !isAlnum(token) {
		return 0, formatErrorf("invalid action %q", action)
	}

	var idx int
	if n, err := strconv.Atoi(token); err == nil {
		idx = n
		logger.Warn("numeric action converted to letter",
			zap.String("action", action), zap.String("letter", Letter(min(n, perspectives-1))))
	} else {
		if len(token) != 1 {
			return 0, formatErrorf("action %q is not a single letter", action)
		}
		idx = strings.Index(letters, token)
	}
	return ClampAction(idx, perspectives, logger), nil
}

// ClampAction forces idx into [0, perspectives), logging when it had to.
func ClampAction(idx, perspectives int, logger *zap.Logger) int {
	if perspectives <= 0 {
		return 0
	}
	if idx >= perspectives {
		if logger != nil {
			logger.Warn("action out of range, clamped",
				zap.Int("action", idx), zap.Int("perspectives", perspectives))
		}
		return perspectives - 1
	}
	if idx < 0 {
		if logger != nil {
			logger.Warn("negative action, clamped", zap.Int("action", idx))
		}
		return 0
	}
	return idx
}

// #endregion validate

// #region helpers
func isAlnum(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}

func clampScore(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}

// #endregion helpers
