package engine

import (
	"strconv"
	"strings"
)

type decl struct {
	property string
	value    string
}

func d(property, value string) decl {
	return decl{property: property, value: value}
}

var static = map[string][]decl{
	"block":        {d("display", "block")},
	"inline-block": {d("display", "inline-block")},
	"inline":       {d("display", "inline")},
	"flex":         {d("display", "flex")},
	"inline-flex":  {d("display", "inline-flex")},
	"grid":         {d("display", "grid")},
	"contents":     {d("display", "contents")},
	"hidden":       {d("display", "none")},

	"flex-row":        {d("flex-direction", "row")},
	"flex-col":        {d("flex-direction", "column")},
	"flex-wrap":       {d("flex-wrap", "wrap")},
	"flex-1":          {d("flex", "1 1 0%")},
	"grow":            {d("flex-grow", "1")},
	"shrink-0":        {d("flex-shrink", "0")},
	"items-start":     {d("align-items", "flex-start")},
	"items-center":    {d("align-items", "center")},
	"items-end":       {d("align-items", "flex-end")},
	"items-stretch":   {d("align-items", "stretch")},
	"justify-start":   {d("justify-content", "flex-start")},
	"justify-center":  {d("justify-content", "center")},
	"justify-end":     {d("justify-content", "flex-end")},
	"justify-between": {d("justify-content", "space-between")},
	"justify-around":  {d("justify-content", "space-around")},

	"text-left":    {d("text-align", "left")},
	"text-center":  {d("text-align", "center")},
	"text-right":   {d("text-align", "right")},
	"text-justify": {d("text-align", "justify")},

	"italic":       {d("font-style", "italic")},
	"not-italic":   {d("font-style", "normal")},
	"underline":    {d("text-decoration-line", "underline")},
	"line-through": {d("text-decoration-line", "line-through")},
	"no-underline": {d("text-decoration-line", "none")},
	"uppercase":    {d("text-transform", "uppercase")},
	"lowercase":    {d("text-transform", "lowercase")},
	"capitalize":   {d("text-transform", "capitalize")},
	"truncate": {
		d("overflow", "hidden"),
		d("text-overflow", "ellipsis"),
		d("white-space", "nowrap"),
	},

	"static":   {d("position", "static")},
	"relative": {d("position", "relative")},
	"absolute": {d("position", "absolute")},
	"fixed":    {d("position", "fixed")},
	"sticky":   {d("position", "sticky")},

	"w-screen": {d("width", "100vw")},
	"h-screen": {d("height", "100vh")},

	"border":       {d("border-style", "solid"), d("border-width", "1px")},
	"border-0":     {d("border-width", "0px")},
	"border-2":     {d("border-style", "solid"), d("border-width", "2px")},
	"rounded":      {d("border-radius", "0.25rem")},
	"rounded-none": {d("border-radius", "0")},
	"rounded-sm":   {d("border-radius", "0.125rem")},
	"rounded-md":   {d("border-radius", "0.375rem")},
	"rounded-lg":   {d("border-radius", "0.5rem")},
	"rounded-xl":   {d("border-radius", "0.75rem")},
	"rounded-full": {d("border-radius", "calc(infinity * 1px)")},

	"font-thin":     {d("font-weight", "100")},
	"font-light":    {d("font-weight", "300")},
	"font-normal":   {d("font-weight", "400")},
	"font-medium":   {d("font-weight", "500")},
	"font-semibold": {d("font-weight", "600")},
	"font-bold":     {d("font-weight", "700")},
	"font-black":    {d("font-weight", "900")},
}

var fontSizes = map[string][2]string{
	"xs":   {"0.75rem", "1rem"},
	"sm":   {"0.875rem", "1.25rem"},
	"base": {"1rem", "1.5rem"},
	"lg":   {"1.125rem", "1.75rem"},
	"xl":   {"1.25rem", "1.75rem"},
	"2xl":  {"1.5rem", "2rem"},
	"3xl":  {"1.875rem", "2.25rem"},
	"4xl":  {"2.25rem", "2.5rem"},
}

// spacingUtilities map a prefix to the properties its value is applied to.
var spacingUtilities = []struct {
	prefix     string
	properties []string
	keywords   bool // accepts auto, full and fractions
}{
	{"px-", []string{"padding-inline"}, false},
	{"py-", []string{"padding-block"}, false},
	{"pt-", []string{"padding-top"}, false},
	{"pr-", []string{"padding-right"}, false},
	{"pb-", []string{"padding-bottom"}, false},
	{"pl-", []string{"padding-left"}, false},
	{"p-", []string{"padding"}, false},
	{"mx-", []string{"margin-inline"}, true},
	{"my-", []string{"margin-block"}, true},
	{"mt-", []string{"margin-top"}, true},
	{"mr-", []string{"margin-right"}, true},
	{"mb-", []string{"margin-bottom"}, true},
	{"ml-", []string{"margin-left"}, true},
	{"m-", []string{"margin"}, true},
	{"gap-", []string{"gap"}, false},
	{"w-", []string{"width"}, true},
	{"h-", []string{"height"}, true},
	{"inset-", []string{"inset"}, true},
	{"top-", []string{"top"}, true},
	{"right-", []string{"right"}, true},
	{"bottom-", []string{"bottom"}, true},
	{"left-", []string{"left"}, true},
}

var colorUtilities = []struct {
	prefix   string
	property string
}{
	{"bg-", "background-color"},
	{"text-", "color"},
	{"border-", "border-color"},
}

// resolve returns the declarations for a utility without variants.
func (t *theme) resolve(utility string) ([]decl, bool) {
	if decls, ok := static[utility]; ok {
		return decls, true
	}

	if size, ok := strings.CutPrefix(utility, "text-"); ok {
		if fs, ok := fontSizes[size]; ok {
			return []decl{d("font-size", fs[0]), d("line-height", fs[1])}, true
		}
	}

	for _, u := range spacingUtilities {
		value, ok := strings.CutPrefix(utility, u.prefix)
		if !ok {
			continue
		}
		v, ok := spacingValue(value, u.keywords)
		if !ok {
			return nil, false
		}
		decls := make([]decl, len(u.properties))
		for i, p := range u.properties {
			decls[i] = d(p, v)
		}
		return decls, true
	}

	for _, u := range colorUtilities {
		value, ok := strings.CutPrefix(utility, u.prefix)
		if !ok {
			continue
		}
		if v, ok := t.colorValue(value); ok {
			return []decl{d(u.property, v)}, true
		}
	}

	if value, ok := strings.CutPrefix(utility, "opacity-"); ok {
		if n, err := strconv.Atoi(value); err == nil && n >= 0 && n <= 100 {
			return []decl{d("opacity", formatNumber(float64(n)/100))}, true
		}
		return nil, false
	}
	if value, ok := strings.CutPrefix(utility, "z-"); ok {
		if value == "auto" {
			return []decl{d("z-index", "auto")}, true
		}
		if n, err := strconv.Atoi(value); err == nil && n >= 0 {
			return []decl{d("z-index", value)}, true
		}
		return nil, false
	}

	return nil, false
}

// spacingValue converts a spacing scale value: numbers are multiples of
// 0.25rem.
func spacingValue(value string, keywords bool) (string, bool) {
	if v, ok := arbitrary(value); ok {
		return v, true
	}
	switch value {
	case "0":
		return "0px", true
	case "px":
		return "1px", true
	}
	if keywords {
		switch value {
		case "auto":
			return "auto", true
		case "full":
			return "100%", true
		}
		if num, den, ok := strings.Cut(value, "/"); ok {
			n, err1 := strconv.Atoi(num)
			m, err2 := strconv.Atoi(den)
			if err1 != nil || err2 != nil || m == 0 || n < 0 {
				return "", false
			}
			return formatNumber(float64(n)*100/float64(m)) + "%", true
		}
	}
	n, err := strconv.ParseFloat(value, 64)
	if err != nil || n < 0 || n*4 != float64(int(n*4)) {
		return "", false
	}
	return formatNumber(n*0.25) + "rem", true
}

// colorValue resolves a color name with an optional /NN opacity modifier.
func (t *theme) colorValue(value string) (string, bool) {
	name, alpha, hasAlpha := strings.Cut(value, "/")
	if strings.HasPrefix(value, "[") {
		name, alpha, hasAlpha = value, "", false
		if i := strings.LastIndex(value, "]/"); i >= 0 {
			name, alpha, hasAlpha = value[:i+1], value[i+2:], true
		}
	}

	color, ok := arbitrary(name)
	if !ok {
		color, ok = t.colors[name]
	}
	if !ok {
		return "", false
	}
	if !hasAlpha {
		return color, true
	}
	n, err := strconv.Atoi(alpha)
	if err != nil || n < 0 || n > 100 {
		return "", false
	}
	return "color-mix(in srgb, " + color + " " + strconv.Itoa(n) + "%, transparent)", true
}

// arbitrary unwraps a [value]; underscores become spaces.
func arbitrary(value string) (string, bool) {
	if len(value) < 3 || value[0] != '[' || value[len(value)-1] != ']' {
		return "", false
	}
	return strings.ReplaceAll(value[1:len(value)-1], "_", " "), true
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
