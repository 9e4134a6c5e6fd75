package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	dbutil "github.com/raevmood/devicefinder/internal/db"
	"github.com/raevmood/devicefinder/internal/models"
	internalsettings "github.com/raevmood/devicefinder/internal/settings"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"gorm.io/gorm"
)

// SettingsRefresher reloads the in-memory settings snapshot.
type SettingsRefresher interface {
	Poll(ctx context.Context, force bool)
}

// SettingHandler lets operators tune runtime settings.
type SettingHandler struct {
	db        *gorm.DB
	refresher SettingsRefresher
}

// NewSettingHandler constructs a SettingHandler. refresher may be nil, in
// which case changes apply on the next watcher poll.
func NewSettingHandler(db *gorm.DB, refresher SettingsRefresher) *SettingHandler {
	return &SettingHandler{db: db, refresher: refresher}
}

type settingKind int

const (
	settingNonNegativeInt settingKind = iota
	settingPositiveInt
	settingBool
	settingString
)

var settingKinds = map[string]settingKind{
	internalsettings.RateLimitMaxCallsKey:      settingNonNegativeInt,
	internalsettings.RateLimitWindowMinutesKey: settingPositiveInt,
	internalsettings.RateLimitRedisEnabledKey:  settingBool,
	internalsettings.RateLimitRedisAddrKey:     settingString,
	internalsettings.RateLimitRedisPasswordKey: settingString,
	internalsettings.RateLimitRedisDBKey:       settingNonNegativeInt,
	internalsettings.RateLimitRedisPrefixKey:   settingString,
}

var (
	errUnknownSettingKey       = errors.New("unknown setting key")
	errInvalidSettingJSON      = errors.New("value must be valid json")
	errPositiveIntegerValue    = errors.New("value must be a positive integer")
	errNonNegativeIntegerValue = errors.New("value must be a non-negative integer")
	errBoolValue               = errors.New("value must be a boolean")
	errStringValue             = errors.New("value must be a string")
)

// updateSettingRequest captures the payload for updating a setting.
type updateSettingRequest struct {
	Value json.RawMessage `json:"value"`
}

// List returns all settings sorted by key, and when the snapshot in use was
// last changed.
func (h *SettingHandler) List(c *gin.Context) {
	var rows []models.Setting
	if errFind := h.db.WithContext(c.Request.Context()).Order("key ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list settings failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, formatSetting(row))
	}
	res := gin.H{"settings": out}
	if appliedAt := internalsettings.DBConfigUpdatedAt(); !appliedAt.IsZero() {
		res["applied_at"] = appliedAt
	}
	c.JSON(http.StatusOK, res)
}

// Get returns a setting by key.
func (h *SettingHandler) Get(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	var setting models.Setting
	if errFind := h.db.WithContext(c.Request.Context()).Where("key = ?", key).First(&setting).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, formatSetting(setting))
}

// Update stores a new value for a known key and refreshes the snapshot.
// A JSON null value restores the file or environment configuration.
func (h *SettingHandler) Update(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	var body updateSettingRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(body.Value) == 0 {
		body.Value = json.RawMessage("null")
	}
	if errValidate := validateSettingValue(key, body.Value); errValidate != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errValidate.Error()})
		return
	}
	if errPut := dbutil.PutSetting(h.db.WithContext(c.Request.Context()), key, body.Value); errPut != nil {
		log.WithError(errPut).WithField("key", key).Error("settings: update failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	h.refresh(c.Request.Context())
	log.WithField("key", key).Info("settings: updated")
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Reset sets a known key back to null.
func (h *SettingHandler) Reset(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if _, ok := settingKinds[key]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if errPut := dbutil.PutSetting(h.db.WithContext(c.Request.Context()), key, nil); errPut != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reset failed"})
		return
	}
	h.refresh(c.Request.Context())
	c.Status(http.StatusNoContent)
}

func (h *SettingHandler) refresh(ctx context.Context) {
	if h.refresher != nil {
		h.refresher.Poll(ctx, true)
	}
}

func validateSettingValue(key string, raw json.RawMessage) error {
	kind, ok := settingKinds[key]
	if !ok {
		return errUnknownSettingKey
	}
	if !gjson.ValidBytes(raw) {
		return errInvalidSettingJSON
	}
	value := gjson.ParseBytes(raw)
	if value.Type == gjson.Null {
		return nil
	}
	switch kind {
	case settingNonNegativeInt:
		if n, okInt := intValue(value); !okInt || n < 0 {
			return errNonNegativeIntegerValue
		}
	case settingPositiveInt:
		if n, okInt := intValue(value); !okInt || n <= 0 {
			return errPositiveIntegerValue
		}
	case settingBool:
		if !value.IsBool() {
			if _, errParse := strconv.ParseBool(strings.TrimSpace(value.String())); value.Type != gjson.String || errParse != nil {
				return errBoolValue
			}
		}
	case settingString:
		if value.Type != gjson.String {
			return errStringValue
		}
	}
	return nil
}

// intValue accepts integral JSON numbers and numeric strings.
func intValue(value gjson.Result) (int, bool) {
	switch value.Type {
	case gjson.Number:
		if math.IsNaN(value.Num) || math.IsInf(value.Num, 0) || value.Num != math.Trunc(value.Num) {
			return 0, false
		}
		return int(value.Num), true
	case gjson.String:
		n, errParse := strconv.Atoi(strings.TrimSpace(value.Str))
		return n, errParse == nil
	default:
		return 0, false
	}
}

func formatSetting(s models.Setting) gin.H {
	value := json.RawMessage(s.Value)
	if len(value) == 0 {
		value = json.RawMessage("null")
	}
	if s.Key == internalsettings.RateLimitRedisPasswordKey && gjson.ParseBytes(value).Type != gjson.Null {
		value = json.RawMessage(`"***"`)
	}
	return gin.H{
		"key":        s.Key,
		"value":      value,
		"updated_at": s.UpdatedAt,
	}
}
