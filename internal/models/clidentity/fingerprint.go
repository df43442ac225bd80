package clidentity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

const componentSeparator = "|||"

// Components regroupe les caractéristiques du navigateur servant à
// dériver l'identifiant visiteur. Une valeur vide ou nulle signifie que
// la caractéristique n'était pas disponible.
type Components struct {
	UserAgent      string
	Language       string
	ColorDepth     int
	ScreenWidth    int
	ScreenHeight   int
	TimezoneOffset *int
	SessionStorage bool
	LocalStorage   bool
	Canvas         string
}

// String assemble les composants disponibles dans un ordre fixe
func (c Components) String() string {
	parts := make([]string, 0, 8)

	if c.UserAgent != "" {
		parts = append(parts, c.UserAgent)
	}
	if c.Language != "" {
		parts = append(parts, c.Language)
	}
	if c.ColorDepth > 0 {
		parts = append(parts, strconv.Itoa(c.ColorDepth))
	}
	if c.ScreenWidth > 0 && c.ScreenHeight > 0 {
		parts = append(parts, fmt.Sprintf("%dx%d", c.ScreenWidth, c.ScreenHeight))
	}
	if c.TimezoneOffset != nil {
		parts = append(parts, strconv.Itoa(*c.TimezoneOffset))
	}
	parts = append(parts, strconv.FormatBool(c.SessionStorage), strconv.FormatBool(c.LocalStorage))
	if c.Canvas != "" {
		parts = append(parts, c.Canvas)
	}

	return strings.Join(parts, componentSeparator)
}

// HashString retourne le SHA-256 de s en hexadécimal minuscule
func HashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// VisitorIDFor dérive l'identifiant visiteur pseudonyme
func VisitorIDFor(c Components) string {
	return HashString(c.String())
}
