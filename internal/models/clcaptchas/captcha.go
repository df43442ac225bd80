package clcaptchas

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"littlefolio/internal/clredis"

	"github.com/gin-gonic/gin"
	"github.com/mojocn/base64Captcha"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var (
	ErrCaptchaMissing = errors.New("CAPTCHA manquant")
	ErrCaptchaWrong   = errors.New("CAPTCHA incorrect")
)

type Captchas struct {
	store      base64Captcha.Store
	driver     base64Captcha.Driver
	production bool
}

// Challenge est renvoyé au client ; answer n'est rempli qu'en développement
type Challenge struct {
	CaptchaID string `json:"captcha_id"`
	Image     string `json:"image"`
	Answer    string `json:"answer"`
}

// New utilise redis pour stocker les réponses si le client est fourni,
// la mémoire du processus sinon
func New(client *redis.Client, production bool) *Captchas {
	var store base64Captcha.Store
	if client != nil {
		store = clredis.New(client)
	} else {
		store = base64Captcha.DefaultMemStore
	}

	driver := base64Captcha.NewDriverMath(
		80,  // hauteur
		240, // largeur
		6,   // nombre d'opérations à afficher
		base64Captcha.OptionShowHollowLine,
		nil, // couleur de fond
		nil, // police
		nil, // couleurs
	)

	return &Captchas{
		store:      store,
		driver:     driver,
		production: production,
	}
}

func (cap *Captchas) GenerateCaptcha() (*Challenge, error) {
	captcha := base64Captcha.NewCaptcha(cap.driver, cap.store)

	id, b64s, answer, err := captcha.Generate()
	if err != nil {
		return nil, fmt.Errorf("erreur lors de la génération du CAPTCHA: %w", err)
	}

	challenge := &Challenge{CaptchaID: id, Image: b64s}
	if !cap.production {
		log.Debug().Str("id", id).Str("answer", answer).Msg("CAPTCHA généré")
		challenge.Answer = answer
	}
	return challenge, nil
}

func (cap *Captchas) VerifyCaptcha(captchaID string, captchaAnswer string) error {
	captchaID = strings.TrimSpace(captchaID)
	captchaAnswer = strings.TrimSpace(captchaAnswer)

	if captchaID == "" || captchaAnswer == "" {
		return ErrCaptchaMissing
	}

	if !cap.store.Verify(captchaID, captchaAnswer, true) {
		return ErrCaptchaWrong
	}
	return nil
}

func (cap *Captchas) CaptchaHandler(c *gin.Context) {
	challenge, err := cap.GenerateCaptcha()
	if err != nil {
		log.Error().Err(err).Msg("captcha generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Erreur lors de la génération du CAPTCHA",
		})
		return
	}
	c.JSON(http.StatusOK, challenge)
}
