package admin

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// pageParams reads ?page= and ?per_page=. Out-of-range values fall back to page 1 and
// defaultPerPage.
func pageParams(c *gin.Context, defaultPerPage, maxPerPage int) (page, perPage int) {
	page, err := strconv.Atoi(c.Query("page"))
	if err != nil || page < 1 {
		page = 1
	}
	perPage, err = strconv.Atoi(c.Query("per_page"))
	if err != nil || perPage < 1 || perPage > maxPerPage {
		perPage = defaultPerPage
	}
	return page, perPage
}

func paginationBody(page, perPage, total int) gin.H {
	return gin.H{
		"page":     page,
		"per_page": perPage,
		"total":    total,
	}
}
