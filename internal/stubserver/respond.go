package stubserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

func ok(c *gin.Context, v any) {
	c.JSON(http.StatusOK, v)
}

func fail(c *gin.Context, code int, msg any) {
	c.JSON(code, gin.H{"error": msg})
}

type fieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// bindError maps binding failures to the error envelope, expanding
// validator errors into per-field entries.
func bindError(c *gin.Context, err error) {
	if verrs, ok := err.(validator.ValidationErrors); ok {
		out := make([]fieldError, 0, len(verrs))
		for _, fe := range verrs {
			msg := "invalid value"
			if fe.ActualTag() == "required" {
				msg = "this field is required"
			}
			out = append(out, fieldError{Field: fe.Field(), Tag: fe.ActualTag(), Message: msg})
		}
		fail(c, http.StatusBadRequest, out)
		return
	}
	fail(c, http.StatusBadRequest, err.Error())
}
