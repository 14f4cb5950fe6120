package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Inventory numbers arrive as JSON numbers or, from numeric database
// columns, as strings. null and "" decode to zero.

type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s, err := numberText(data)
	if err != nil || s == "" {
		*f = 0
		return err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("number %s: %w", data, err)
	}
	*f = flexFloat(v)
	return nil
}

type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	s, err := numberText(data)
	if err != nil || s == "" {
		*n = 0
		return err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		// "4.0" is still a whole number.
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != float64(int(f)) {
			return fmt.Errorf("integer %s: %w", data, err)
		}
		v = int(f)
	}
	*n = flexInt(v)
	return nil
}

func numberText(data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return "", nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return "", fmt.Errorf("number: %w", err)
	}
	return n.String(), nil
}

func (c *Category) UnmarshalJSON(data []byte) error {
	type plain Category
	aux := struct {
		*plain
		Thickness flexFloat `json:"thickness"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.Thickness = float64(aux.Thickness)
	return nil
}

func (p *PendingCategory) UnmarshalJSON(data []byte) error {
	type plain PendingCategory
	aux := struct {
		*plain
		Thickness flexFloat `json:"thickness"`
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.Thickness = float64(aux.Thickness)
	return nil
}

func (p *Part) UnmarshalJSON(data []byte) error {
	type plain Part
	aux := struct {
		*plain
		Quantity flexInt `json:"quantity"`
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	p.Quantity = int(aux.Quantity)
	return nil
}

func (b *BoxTube) UnmarshalJSON(data []byte) error {
	type plain BoxTube
	aux := struct {
		*plain
		Quantity flexInt `json:"quantity"`
		TeamID   ID      `json:"team_id"`
	}{plain: (*plain)(b)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	b.Quantity = int(aux.Quantity)
	b.TeamID = aux.TeamID.String()
	return nil
}

func (m *DraftMetadata) UnmarshalJSON(data []byte) error {
	type plain DraftMetadata
	aux := struct {
		*plain
		Quantity *flexInt `json:"quantity"`
	}{plain: (*plain)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	m.Quantity = nil
	if aux.Quantity != nil {
		q := int(*aux.Quantity)
		m.Quantity = &q
	}
	return nil
}
