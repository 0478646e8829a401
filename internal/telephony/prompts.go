package telephony

import "github.com/amruthjakku/AgriVoice/internal/language"

// sayLanguage is the <Say> locale per answer language.
var sayLanguage = map[language.Code]string{
	language.Hindi:   "hi-IN",
	language.Telugu:  "te-IN",
	language.English: "en-IN",
}

var greeting = map[language.Code]string{
	language.Hindi:   "नमस्ते! एग्रीवॉइस में आपका स्वागत है। बीप के बाद अपना खेती से जुड़ा सवाल पूछें, फिर कोई भी बटन दबाएं।",
	language.Telugu:  "నమస్కారం! అగ్రివాయిస్‌కు స్వాగతం. బీప్ తర్వాత మీ వ్యవసాయ ప్రశ్న అడగండి, తర్వాత ఏదైనా బటన్ నొక్కండి.",
	language.English: "Welcome to AgriVoice. After the beep, ask your farming question, then press any key.",
}

var received = map[language.Code]string{
	language.Hindi:   "आपका सवाल मिल गया है। कृपया उत्तर के लिए प्रतीक्षा करें।",
	language.Telugu:  "మీ ప్రశ్న అందింది. దయచేసి సమాధానం కోసం వేచి ఉండండి.",
	language.English: "Your question has been received. Please hold while we prepare the answer.",
}

var noRecording = map[language.Code]string{
	language.Hindi:   "हमें आपकी आवाज़ नहीं मिली। कृपया फिर से कॉल करें।",
	language.Telugu:  "మీ స్వరం అందలేదు. దయచేసి మళ్ళీ కాల్ చేయండి.",
	language.English: "We did not receive a recording. Please call again.",
}

var unavailable = map[language.Code]string{
	language.Hindi:   "क्षमा करें, अभी उत्तर तैयार नहीं हो सका। कृपया बाद में फिर से कॉल करें।",
	language.Telugu:  "క్షమించండి, ప్రస్తుతం సమాధానం సిద్ధం కాలేదు. దయచేసి తర్వాత మళ్ళీ కాల్ చేయండి.",
	language.English: "Sorry, we could not prepare an answer right now. Please call again later.",
}

var goodbye = map[language.Code]string{
	language.Hindi:   "एग्रीवॉइस का उपयोग करने के लिए धन्यवाद।",
	language.Telugu:  "అగ్రివాయిస్ ఉపయోగించినందుకు ధన్యవాదాలు.",
	language.English: "Thank you for using AgriVoice. Goodbye!",
}
