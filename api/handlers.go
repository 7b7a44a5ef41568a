package api

import (
	"database/sql"
	"net/http"
	"strconv"

	"zkrollup/common"
	"zkrollup/database/kvdb"
	"zkrollup/database/statedb"
	"zkrollup/log"

	ethCommon "github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

func successResponse(c *gin.Context, status int, message string, data ...interface{}) {
	response := gin.H{
		"message": message,
	}
	if len(data) > 0 {
		response["data"] = data[0]
	}
	c.JSON(status, response)
}

func errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"message": message,
	})
}

// errorStatus returns the HTTP status of an error returned by the rollup
func errorStatus(err error) int {
	switch common.Unwrap(err) {
	case common.ErrNotOwner, common.ErrNotAccountOwner:
		return http.StatusForbidden
	case common.ErrInvalidAccount, statedb.ErrBatchNotFound, kvdb.ErrCheckpointNotFound,
		sql.ErrNoRows:
		return http.StatusNotFound
	case common.ErrAccountExists, common.ErrNotPaused, common.ErrReentrantCall:
		return http.StatusConflict
	case common.ErrInvalidAmount, common.ErrInsufficientBalance, common.ErrInvalidNonce,
		common.ErrInvalidSignature, common.ErrAmountOverflow, common.ErrFeeOverflow,
		common.ErrZeroAddress, common.ErrIdxOverflow,
		common.ErrBatchTooLarge, common.ErrEmptyBatch:
		return http.StatusBadRequest
	case common.ErrInvalidProof, common.ErrStateRootMismatch, common.ErrStaleRoot:
		return http.StatusUnprocessableEntity
	case common.ErrContractPaused:
		return http.StatusLocked
	}
	return http.StatusInternalServerError
}

func (a *API) retError(c *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Errorw("api internal error", "path", c.FullPath(), "err", err)
		errorResponse(c, status, "internal error")
		return
	}
	log.Debugw("api request rejected", "path", c.FullPath(), "status", status, "err", err)
	errorResponse(c, status, err.Error())
}

func retBadReq(c *gin.Context, err error) {
	log.Debugw("api bad request", "path", c.FullPath(), "err", err)
	errorResponse(c, http.StatusBadRequest, err.Error())
}

// bind parses the JSON body of the request into req and validates it
func (a *API) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		retBadReq(c, err)
		return false
	}
	if err := a.validate.Struct(req); err != nil {
		retBadReq(c, err)
		return false
	}
	return true
}

func caller(c *gin.Context) (ethCommon.Address, bool) {
	addr := c.GetHeader(CallerHeader)
	if !ethCommon.IsHexAddress(addr) {
		errorResponse(c, http.StatusBadRequest, "missing or invalid "+CallerHeader+" header")
		return ethCommon.Address{}, false
	}
	return ethCommon.HexToAddress(addr), true
}

func parseIdx(c *gin.Context) (common.AccountIdx, bool) {
	idx, err := strconv.ParseUint(c.Param("accountIndex"), 10, 64)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid accountIndex")
		return 0, false
	}
	return common.AccountIdx(idx), true
}

func parseBatchNum(c *gin.Context, s string) (common.BatchNum, bool) {
	num, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid batchNum")
		return 0, false
	}
	return common.BatchNum(num), true
}
