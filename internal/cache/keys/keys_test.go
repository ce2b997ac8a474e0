package keys

import (
	"regexp"
	"strings"
	"testing"
	"unicode"
)

func TestDeterminism_SameInputsSameKey(t *testing.T) {
	k1 := Response("GetFeature", []string{"demo:roads"}, "request=GetFeature&typename=demo%3Aroads")
	k2 := Response("GetFeature", []string{"demo:roads"}, "request=GetFeature&typename=demo%3Aroads")
	if k1 != k2 {
		t.Fatalf("determinism failed:\n k1=%s\n k2=%s", k1, k2)
	}
}

func TestNormalization_WhitespaceVariantsProduceSameKey(t *testing.T) {
	k1 := Response("GetFeature", []string{" roads "}, "  filter=a   b ")
	k2 := Response("GetFeature", []string{"roads"}, "filter=a b")
	if k1 != k2 {
		t.Fatalf("normalized keys differ:\n k1=%s\n k2=%s", k1, k2)
	}
	if !regexp.MustCompile(`^[A-Za-z0-9:_=,\-]+$`).MatchString(k1) {
		t.Fatalf("key contains disallowed characters: %s", k1)
	}
}

func TestDifference(t *testing.T) {
	base := Response("GetFeature", []string{"roads"}, "maxfeatures=1")
	for name, k := range map[string]string{
		"params": Response("GetFeature", []string{"roads"}, "maxfeatures=2"),
		"op":     Response("DescribeFeatureType", []string{"roads"}, "maxfeatures=1"),
		"layers": Response("GetFeature", []string{"roads", "rivers"}, "maxfeatures=1"),
		"order":  Response("GetFeature", []string{"rivers", "roads"}, "maxfeatures=1"),
	} {
		if k == base {
			t.Fatalf("%s: keys must differ, both %s", name, k)
		}
	}
}

func TestUnicodeSafety_NoPanicAndHashSuffixPresent(t *testing.T) {
	k := Response("GetFeature", []string{"vägar"}, "filter=name = 'Göteborg' AND note = '雪'")
	for _, r := range k {
		if r > unicode.MaxASCII {
			t.Fatalf("non-ASCII rune leaked into key: %q in %s", r, k)
		}
	}
	if m := regexp.MustCompile(`:f=([0-9a-f]{16})$`).FindStringSubmatch(k); len(m) != 2 {
		t.Fatalf("missing or invalid :f=<hex64> suffix in key: %s", k)
	}
	if !strings.HasPrefix(k, "wfs:getfeature:") {
		t.Fatalf("unexpected key prefix: %s", k)
	}
}

func TestLayerIndex(t *testing.T) {
	if got, want := LayerIndex(" demo:roads "), "wfs:idx:demo:roads"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
