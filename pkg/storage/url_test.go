package storage

import "testing"

func TestParseURL(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		bucket  string
		key     string
		wantErr bool
	}{
		{name: "object", ref: "s3://releases/ubuntu/24.04/ubuntu.iso", bucket: "releases", key: "ubuntu/24.04/ubuntu.iso"},
		{name: "no key", ref: "s3://releases", wantErr: true},
		{name: "empty key", ref: "s3://releases/", wantErr: true},
		{name: "empty bucket", ref: "s3:///key.iso", wantErr: true},
		{name: "local path", ref: "/tmp/ubuntu.iso", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, err := ParseURL(tt.ref)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURL(%q) error = %v, wantErr %v", tt.ref, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if bucket != tt.bucket || key != tt.key {
				t.Errorf("ParseURL(%q) = %q, %q; want %q, %q", tt.ref, bucket, key, tt.bucket, tt.key)
			}
		})
	}
}
