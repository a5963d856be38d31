package graph

import (
	"encoding/json"

	"github.com/whamworks/resourced/pkg/registry"
)

// AttributeSource resolves a record's class and current attribute set,
// the two things SubscriberIndex needs to evaluate a subscription's
// ValueFunc. pkg/manager backs this with the live ClassIndex + storage.
type AttributeSource interface {
	ClassOf(recordID string) (string, bool)
	AttributesOf(recordID string) (map[string]json.RawMessage, bool)
}

type subKey struct {
	key   string
	value string
}

// SubscriberIndex maintains two multimaps: providers (records of a
// subscribed-to class, keyed by the
// value a subscription's ValueFunc computes from their attributes) and
// subscribers (records whose class declares that subscription, keyed the
// same way over their own attributes). Matching entries in both multimaps
// under the same key is what lets one plugin's device and another plugin's
// device-node resolve to the same identity without either plugin knowing
// of the other.
type SubscriberIndex struct {
	reg         *registry.Registry
	attrs       AttributeSource
	providers   map[subKey]map[string]bool // class must equal subscription.SubscribeTo
	subscribers map[subKey]map[string]bool
}

// NewSubscriberIndex returns an empty index.
func NewSubscriberIndex(reg *registry.Registry, attrs AttributeSource) *SubscriberIndex {
	return &SubscriberIndex{
		reg:         reg,
		attrs:       attrs,
		providers:   make(map[subKey]map[string]bool),
		subscribers: make(map[subKey]map[string]bool),
	}
}

// everySubscription returns every Subscription declared by any registered
// class, paired with the declaring class id.
func (s *SubscriberIndex) everySubscription() []struct {
	classID string
	sub     registry.Subscription
} {
	var out []struct {
		classID string
		sub     registry.Subscription
	}
	for _, d := range s.reg.All() {
		for _, sub := range d.Subscriptions {
			out = append(out, struct {
				classID string
				sub     registry.Subscription
			}{d.ID, sub})
		}
	}
	return out
}

// AddResource registers recordID in both multimaps for every subscription
// it participates in: as a subscriber (its class declares the subscription)
// and/or as a provider (its class matches some subscription's SubscribeTo).
func (s *SubscriberIndex) AddResource(recordID string) {
	classID, ok := s.attrs.ClassOf(recordID)
	if !ok {
		return
	}
	attrs, ok := s.attrs.AttributesOf(recordID)
	if !ok {
		return
	}

	for _, entry := range s.everySubscription() {
		if entry.classID == classID {
			if v, ok := entry.sub.ValueFn(attrs); ok {
				k := subKey{entry.sub.Key, v}
				if s.subscribers[k] == nil {
					s.subscribers[k] = make(map[string]bool)
				}
				s.subscribers[k][recordID] = true
			}
		}
		if entry.sub.SubscribeTo == classID {
			if v, ok := entry.sub.ValueFn(attrs); ok {
				k := subKey{entry.sub.Key, v}
				if s.providers[k] == nil {
					s.providers[k] = make(map[string]bool)
				}
				s.providers[k][recordID] = true
			}
		}
	}
}

// Populate adds every existing record, called once at startup after
// ClassIndex has been primed so ClassOf lookups resolve without a storage
// round trip per record.
func (s *SubscriberIndex) Populate(recordIDs []string) {
	for _, id := range recordIDs {
		s.AddResource(id)
	}
}

// RemoveResource undoes AddResource for a deleted record.
func (s *SubscriberIndex) RemoveResource(recordID string) {
	for _, set := range s.providers {
		delete(set, recordID)
	}
	for _, set := range s.subscribers {
		delete(set, recordID)
	}
}

// WhatProvides returns, for resource's declared subscriptions, every
// existing record that should become resource's parent.
func (s *SubscriberIndex) WhatProvides(recordID string) []string {
	classID, ok := s.attrs.ClassOf(recordID)
	if !ok {
		return nil
	}
	attrs, ok := s.attrs.AttributesOf(recordID)
	if !ok {
		return nil
	}
	desc, ok := s.reg.Get(classID)
	if !ok {
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	for _, sub := range desc.Subscriptions {
		v, ok := sub.ValueFn(attrs)
		if !ok {
			continue
		}
		for id := range s.providers[subKey{sub.Key, v}] {
			if id != recordID && !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// WhatSubscribes returns every existing record that should gain resource as
// a parent, because that record's class declares a subscription matching
// resource's own class and attribute value.
func (s *SubscriberIndex) WhatSubscribes(recordID string) []string {
	classID, ok := s.attrs.ClassOf(recordID)
	if !ok {
		return nil
	}
	attrs, ok := s.attrs.AttributesOf(recordID)
	if !ok {
		return nil
	}

	seen := make(map[string]bool)
	var out []string
	for _, entry := range s.everySubscription() {
		if entry.sub.SubscribeTo != classID {
			continue
		}
		v, ok := entry.sub.ValueFn(attrs)
		if !ok {
			continue
		}
		for id := range s.subscribers[subKey{entry.sub.Key, v}] {
			if id != recordID && !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}
