package auth

import (
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

var (
	adjectives = []string{
		"able", "brave", "calm", "clever", "eager", "fancy", "gentle", "happy", "jolly", "kind",
		"lively", "lucky", "merry", "nimble", "proud", "quick", "quiet", "rapid", "shy", "silly",
		"swift", "tidy", "witty", "zany", "bold", "cosmic", "dizzy", "fluffy", "grumpy", "humble",
	}
	colors = []string{
		"amber", "aqua", "azure", "beige", "black", "blue", "bronze", "coral", "crimson", "cyan",
		"gold", "gray", "green", "indigo", "ivory", "lavender", "lime", "magenta", "maroon", "olive",
		"orange", "pink", "plum", "purple", "red", "salmon", "silver", "teal", "violet", "white",
	}
	animals = []string{
		"badger", "bat", "bear", "beaver", "bison", "camel", "cat", "crab", "crane", "deer",
		"dolphin", "eagle", "falcon", "ferret", "fox", "gecko", "heron", "koala", "lemur", "lynx",
		"moose", "otter", "owl", "panda", "puffin", "rabbit", "seal", "sloth", "walrus", "wolf",
	}
)

// RandomName returns an adjective_color_animal display name
func RandomName() string {
	return strings.Join([]string{pick(adjectives), pick(colors), pick(animals)}, "_")
}

// NewUserID returns a fresh opaque user id
func NewUserID() string {
	return uuid.NewString()
}

// Anonymous returns a new identity with a generated name
func Anonymous() Identity {
	return Identity{Type: KindAnonymous, ID: NewUserID(), Name: RandomName()}
}

// Nickname returns a new identity with the chosen name
func Nickname(name string) Identity {
	return Identity{Type: KindNickname, ID: NewUserID(), Name: name}
}

func pick(words []string) string {
	return words[rand.IntN(len(words))]
}
