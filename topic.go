// Copyright 2025 The destiny-pulsar Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pulsar

import (
	"fmt"
	"strconv"
	"strings"
)

// TopicName is a parsed `persistent|non-persistent://tenant/namespace/topic[-partition-N]`
// address, per §6.
type TopicName struct {
	Persistent bool
	Tenant     string
	Namespace  string
	LocalName  string

	Partitioned bool
	Partition   int32
}

const (
	defaultTenant    = "public"
	defaultNamespace = "default"
)

// ParseTopicName parses a topic string. Bare `topic` and `tenant/namespace/topic`
// forms are accepted with the persistent scheme and default tenant/namespace
// filled in, matching the broker's own lenient parsing.
func ParseTopicName(topic string) (*TopicName, error) {
	if topic == "" {
		return nil, newError("ParseTopicName", KindInvalidConfiguration, fmt.Errorf("empty topic name"))
	}

	t := &TopicName{Persistent: true, Tenant: defaultTenant, Namespace: defaultNamespace, Partition: -1}

	rest := topic
	switch {
	case strings.HasPrefix(rest, "persistent://"):
		rest = strings.TrimPrefix(rest, "persistent://")
	case strings.HasPrefix(rest, "non-persistent://"):
		t.Persistent = false
		rest = strings.TrimPrefix(rest, "non-persistent://")
	}

	parts := strings.Split(rest, "/")
	switch len(parts) {
	case 1:
		t.LocalName = parts[0]
	case 3:
		t.Tenant = parts[0]
		t.Namespace = parts[1]
		t.LocalName = parts[2]
	default:
		return nil, newError("ParseTopicName", KindInvalidConfiguration,
			fmt.Errorf("malformed topic name %q", topic))
	}

	if idx := strings.LastIndex(t.LocalName, "-partition-"); idx >= 0 {
		if n, err := strconv.Atoi(t.LocalName[idx+len("-partition-"):]); err == nil {
			t.Partitioned = true
			t.Partition = int32(n)
			t.LocalName = t.LocalName[:idx]
		}
	}

	if t.LocalName == "" {
		return nil, newError("ParseTopicName", KindInvalidConfiguration,
			fmt.Errorf("malformed topic name %q", topic))
	}
	return t, nil
}

// String renders the canonical persistent|non-persistent://tenant/namespace/topic form.
func (t *TopicName) String() string {
	scheme := "persistent"
	if !t.Persistent {
		scheme = "non-persistent"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, t.Tenant, t.Namespace, t.LocalName)
}

// PartitionName returns the fully-qualified name of the given
// partition of this topic.
func (t *TopicName) PartitionName(partition int32) string {
	if partition < 0 {
		return t.String()
	}
	return fmt.Sprintf("%s-partition-%d", t.String(), partition)
}
