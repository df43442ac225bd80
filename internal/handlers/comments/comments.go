package handlers_comments

import (
	"errors"
	"net/http"

	"littlefolio/internal/clmiddleware"
	"littlefolio/internal/models/clanalytics"
	"littlefolio/internal/models/clcaptchas"
	"littlefolio/internal/models/clmarkdown"

	"github.com/gin-gonic/gin"
)

const maxCommentLength = 4000

type CommentsHandler struct {
	gateway  *clanalytics.Gateway
	captchas *clcaptchas.Captchas
}

func NewCommentsHandler(gateway *clanalytics.Gateway, captchas *clcaptchas.Captchas) *CommentsHandler {
	return &CommentsHandler{
		gateway:  gateway,
		captchas: captchas,
	}
}

func (ch *CommentsHandler) Register(api *gin.RouterGroup, limit gin.HandlerFunc) {
	api.GET("/pages/:id/comments", ch.List)
	api.POST("/pages/:id/comments", limit, ch.Create)
}

// List retourne les commentaires approuvés avec leur rendu HTML
func (ch *CommentsHandler) List(c *gin.Context) {
	comments := ch.gateway.GetComments(c.Request.Context(), c.Param("id"))
	for i := range comments {
		comments[i].ContentHTML = clmarkdown.RenderComment(comments[i].Content)
	}
	c.JSON(http.StatusOK, comments)
}

type createRequest struct {
	Content       string `json:"content" binding:"required"`
	CaptchaID     string `json:"captchaID"`
	CaptchaAnswer string `json:"captchaAnswer"`
}

// Create enregistre un commentaire en attente de modération
func (ch *CommentsHandler) Create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, clanalytics.Result{Success: false, Message: "Contenu requis"})
		return
	}
	if len(req.Content) > maxCommentLength {
		c.JSON(http.StatusBadRequest, clanalytics.Result{Success: false, Message: "Commentaire trop long"})
		return
	}

	if err := ch.captchas.VerifyCaptcha(req.CaptchaID, req.CaptchaAnswer); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, clcaptchas.ErrCaptchaWrong) {
			status = http.StatusForbidden
		}
		c.JSON(status, clanalytics.Result{Success: false, Message: err.Error()})
		return
	}

	id := clmiddleware.GetIdentity(c)
	res := ch.gateway.AddComment(c.Request.Context(), c.Param("id"), id.Fingerprint, req.Content)
	if !res.Success {
		status := http.StatusInternalServerError
		message := "Operation failed"
		if res.Message == clanalytics.MessageEmptyComment {
			status, message = http.StatusBadRequest, res.Message
		}
		c.JSON(status, clanalytics.Result{Success: false, Message: message})
		return
	}

	c.JSON(http.StatusCreated, res)
}
