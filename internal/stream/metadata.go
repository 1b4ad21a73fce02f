/*
Copyright (C) 2024  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// HTTPDescriber implements ImageDescriber against the external slide
// metadata service (spec: "Owned by the external metadata service;
// referenced by UUID" — this module never stores or mutates that row, it
// only reads the handful of fields it needs to run the streaming
// handshake).
type HTTPDescriber struct {
	BaseURL string
	HTTP    *http.Client
}

func NewHTTPDescriber(baseURL string) *HTTPDescriber {
	return &HTTPDescriber{BaseURL: baseURL, HTTP: &http.Client{Timeout: 5 * time.Second}}
}

type slideMetadata struct {
	WidthLevel0  uint32 `json:"width_level0"`
	HeightLevel0 uint32 `json:"height_level0"`
	LevelCount   uint32 `json:"level_count"`
}

func (d *HTTPDescriber) Describe(ctx context.Context, id uuid.UUID) (ImageDesc, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.BaseURL+"/slides/"+id.String(), nil)
	if err != nil {
		return ImageDesc{}, err
	}
	resp, err := d.HTTP.Do(req)
	if err != nil {
		return ImageDesc{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ImageDesc{}, fmt.Errorf("stream: describe slide %s: status %d", id, resp.StatusCode)
	}
	var md slideMetadata
	if err := json.NewDecoder(resp.Body).Decode(&md); err != nil {
		return ImageDesc{}, err
	}
	return ImageDesc{Width: md.WidthLevel0, Height: md.HeightLevel0, LevelCount: md.LevelCount}, nil
}
