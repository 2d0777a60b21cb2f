package filter

// brandTokens accepts the brand name in its common localized spellings
// and the frequent all-caps/no-space variant.
var brandTokens = []string{"lego", "légo"}

// minifigureIndicators are words that mark a title as referring to a
// complete minifigure rather than a loose part.
var minifigureIndicators = []string{
	"minifig", "minifigure", "minifigura", "figurine", "figur", "minifigur",
	"complete", "komplett", "completa", "complet",
}

// bodyPartWords is a curated multilingual lexicon of minifig part names,
// tagged by body part. Used by the body-part-word rejection rule.
var bodyPartWords = map[string]string{
	"legs": "legs", "beine": "legs", "piernas": "legs", "jambes": "legs", "gambe": "legs",
	"torso": "torso", "rumpf": "torso", "torse": "torso",
	"head": "head", "kopf": "head", "cabeza": "head", "tete": "head",
	"hair": "hair", "haar": "hair", "cheveux": "hair", "cabello": "hair",
	"helmet": "helmet", "helm": "helmet", "casco": "helmet", "casque": "helmet",
	"cape": "cape", "umhang": "cape", "capa": "cape",
	"hat": "hat", "hut": "hat", "sombrero": "hat",
}

// commonElementNumbers is a curated list of common canonical element
// numbers for hair, helmet, and torso parts — these appear verbatim in
// marketplace titles for part-only listings.
var commonElementNumbers = []string{
	"3626cpb", "3815pb", "2554pb", "973pb", "4485pb",
}

// negativeKeywords groups reject-on-any-hit phrases by category. A hit in
// any category rejects the candidate outright.
var negativeKeywords = map[string][]string{
	"parts_only":       {"parts only", "nur teile", "solo piezas", "pieces only", "piece only"},
	"non_figure":       {"keychain", "schlüsselanhänger", "llavero", "magnet", "sticker", "aufkleber", "pin badge"},
	"full_set":         {"complete set", "komplettes set", "juego completo", "full set", "ensemble complet"},
	"knockoff":         {"custom", "knockoff", "bootleg", "lepin", "clone brand", "compatible brick", "not lego"},
	"bulk_lot":         {"job lot", "bulk lot", "lote", "lot de", "wholesale lot", "mixed lot"},
	"instructions_only": {"instructions only", "nur anleitung", "manual only", "instrucciones solamente"},
	"display_case":     {"display case", "vitrine", "acrylic case", "display stand only"},
}

// conditionKeywords maps a condition token to the multilingual phrases
// that indicate it in a title.
var conditionKeywords = map[string][]string{
	"new":  {"new", "neu", "nuevo", "neuf", "nuovo", "bnib", "sealed", "misb"},
	"used": {"used", "gebraucht", "usado", "occasion", "usato", "pre-owned", "second hand"},
}

// setNumberPattern-adjacent words that, combined with a 4-6 digit set
// number pattern in a minifig-kind title, indicate a full boxed set
// being mis-filed under a minifig watch.
var setWords = []string{"set", "box", "boxed", "new sealed set"}
