package overlay

// Helvetica advance widths in 1/1000 em for the printable ASCII range,
// indexed from 0x20. Characters outside the table fall back to the usual
// 500-unit default.
var helveticaWidths = [95]int{
	278, 278, 355, 556, 556, 889, 667, 191, // space ! " # $ % & '
	333, 333, 389, 584, 278, 333, 278, 278, // ( ) * + , - . /
	556, 556, 556, 556, 556, 556, 556, 556, // 0 1 2 3 4 5 6 7
	556, 556, 278, 278, 584, 584, 584, 556, // 8 9 : ; < = > ?
	1015, 667, 667, 722, 722, 667, 611, 778, // @ A B C D E F G
	722, 278, 500, 667, 556, 833, 722, 778, // H I J K L M N O
	667, 778, 722, 667, 611, 722, 667, 944, // P Q R S T U V W
	667, 667, 611, 278, 278, 278, 469, 556, // X Y Z [ \ ] ^ _
	333, 556, 556, 500, 556, 556, 278, 556, // ` a b c d e f g
	556, 222, 222, 500, 222, 833, 556, 556, // h i j k l m n o
	556, 556, 333, 500, 278, 556, 500, 722, // p q r s t u v w
	500, 500, 500, 334, 260, 334, 584, // x y z { | } ~
}

const defaultGlyphWidth = 500

// measureText approximates rendered text width in page units for Helvetica
// at the given size.
func measureText(text string, fontSize float64) float64 {
	width := 0.0
	for _, r := range text {
		w := defaultGlyphWidth
		if r >= 0x20 && r <= 0x7e {
			w = helveticaWidths[r-0x20]
		}
		width += float64(w) / 1000.0 * fontSize
	}
	return width
}
