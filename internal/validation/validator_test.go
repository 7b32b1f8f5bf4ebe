// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package validation

import (
	"errors"
	"strings"
	"testing"
)

type upload struct {
	Layer       string `validate:"required,layerurl"`
	Name        string `validate:"required,max=8"`
	ContentType string `validate:"required,mediatype"`
	Kind        string `validate:"oneof=add update delete"`
}

func TestStruct(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		in        upload
		wantField string
		wantTag   string
	}{
		{"valid", upload{"https://h/FeatureServer/0", "a.jpg", "image/jpeg", "add"}, "", ""},
		{"ftp layer", upload{"ftp://h/0", "a.jpg", "image/jpeg", "add"}, "Layer", "layerurl"},
		{"query in layer", upload{"https://h/0?f=json", "a.jpg", "image/jpeg", "add"}, "Layer", "layerurl"},
		{"trailing slash", upload{"https://h/0/", "a.jpg", "image/jpeg", "add"}, "Layer", "layerurl"},
		{"long name", upload{"https://h/0", "photo-0001.jpg", "image/jpeg", "add"}, "Name", "max"},
		{"bad media type", upload{"https://h/0", "a.jpg", "jpeg", "add"}, "ContentType", "mediatype"},
		{"bad kind", upload{"https://h/0", "a.jpg", "image/png", "upsert"}, "Kind", "oneof"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := Struct(tt.in)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var verr *Error
			if !errors.As(err, &verr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if len(verr.Fields) != 1 {
				t.Fatalf("expected one field error, got %+v", verr.Fields)
			}
			if verr.Fields[0].Field != tt.wantField || verr.Fields[0].Tag != tt.wantTag {
				t.Errorf("got %s/%s, want %s/%s", verr.Fields[0].Field, verr.Fields[0].Tag, tt.wantField, tt.wantTag)
			}
			if !strings.Contains(verr.Error(), tt.wantField) {
				t.Errorf("message %q does not name the field", verr.Error())
			}
		})
	}
}

func TestLayerURL(t *testing.T) {
	t.Parallel()

	if err := LayerURL("https://example.test/arcgis/rest/services/Roads/FeatureServer/0"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := LayerURL(""); err == nil {
		t.Error("expected error for empty url")
	}
	if err := LayerURL("/relative/0"); err == nil {
		t.Error("expected error for relative url")
	}
}
