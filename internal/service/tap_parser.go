package service

import (
	"strconv"
	"strings"

	"github.com/aionloyalty/aion/internal/model"
	"github.com/aionloyalty/aion/pkg/errutil"
)

// ParseTapRequest normalises the query parameters of a tap URL. Only uid is
// required here; the authenticity validator decides what prod mode needs.
func ParseTapRequest(req model.TapRequest) (model.TapEvent, error) {
	ev := model.TapEvent{
		UID:  strings.TrimSpace(req.UID),
		CMAC: strings.TrimSpace(req.CMAC),
		Mode: model.TapModeProd,
	}
	if ev.UID == "" {
		return model.TapEvent{}, errutil.MissingParameter("uid is required")
	}

	switch mode := strings.ToLower(strings.TrimSpace(req.Mode)); mode {
	case "", string(model.TapModeProd):
	case string(model.TapModeDev):
		ev.Mode = model.TapModeDev
	default:
		return model.TapEvent{}, errutil.MissingParameter("mode must be dev or prod")
	}

	if raw := strings.TrimSpace(req.Counter); raw != "" {
		counter, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || counter < 0 {
			return model.TapEvent{}, errutil.MissingParameter("counter must be a non-negative integer")
		}
		ev.Counter = counter
		ev.HasCounter = true
	}

	return ev, nil
}
