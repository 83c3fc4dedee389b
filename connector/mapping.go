// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package connector

import "fmt"

// TagMapping binds one monitored data point to the asset and metric it
// describes. Mappings are configuration data, validated once at startup.
type TagMapping struct {
	NodeID      string  `mapstructure:"node_id"`
	AssetID     string  `mapstructure:"asset_id"`
	Metric      string  `mapstructure:"metric"`
	LineID      string  `mapstructure:"line_id"`      // Optional
	ScaleFactor float64 `mapstructure:"scale_factor"` // 0 means no scaling
	Unit        string  `mapstructure:"unit"`         // Optional
}

// validateMappings indexes mappings by node ID, rejecting duplicates and
// incomplete entries.
func validateMappings(mappings []TagMapping) (map[string]TagMapping, error) {
	if len(mappings) == 0 {
		return nil, fmt.Errorf("at least one tag mapping must be configured")
	}
	byNode := make(map[string]TagMapping, len(mappings))
	for i, m := range mappings {
		if m.NodeID == "" {
			return nil, fmt.Errorf("tag mapping %d: node_id must be provided", i)
		}
		if m.AssetID == "" || m.Metric == "" {
			return nil, fmt.Errorf("tag mapping %q: asset_id and metric must be provided", m.NodeID)
		}
		if m.ScaleFactor < 0 {
			return nil, fmt.Errorf("tag mapping %q: scale_factor must not be negative", m.NodeID)
		}
		if _, dup := byNode[m.NodeID]; dup {
			return nil, fmt.Errorf("tag mapping %q: duplicate node_id", m.NodeID)
		}
		byNode[m.NodeID] = m
	}
	return byNode, nil
}
